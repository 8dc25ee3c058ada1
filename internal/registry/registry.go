// Package registry keeps the funds hosted by a process, keyed by id.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chitfund/internal/fund"
	"chitfund/internal/model"
)

// Registry maps fund ids to machines. It only adds and looks up; it never
// changes a fund's state itself.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*fund.Machine
	store    fund.Store
	sinks    []fund.EventSink
}

// New creates an empty registry committing through store.
func New(store fund.Store, sinks ...fund.EventSink) *Registry {
	return &Registry{
		machines: make(map[string]*fund.Machine),
		store:    store,
		sinks:    sinks,
	}
}

// Load registers every fund the store knows about.
func (r *Registry) Load(ctx context.Context) (int, error) {
	states, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list funds: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range states {
		r.machines[s.ID] = fund.NewMachine(s, r.store, r.sinks...)
	}
	return len(states), nil
}

// Create validates cfg, assigns a fresh id, commits the new fund and registers it.
func (r *Registry) Create(ctx context.Context, cfg model.FundConfig, now time.Time) (*fund.Machine, error) {
	return r.CreateWithID(ctx, uuid.NewString(), cfg, now)
}

// CreateWithID is Create with a caller-chosen id.
func (r *Registry) CreateWithID(ctx context.Context, id string, cfg model.FundConfig, now time.Time) (*fund.Machine, error) {
	state, err := fund.Create(id, cfg, now)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.machines[id]; exists {
		return nil, model.Errorf(model.CodeInvalidConfig, "fund %s already exists", id)
	}
	if err := r.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save fund %s: %w", id, err)
	}
	m := fund.NewMachine(state, r.store, r.sinks...)
	r.machines[id] = m
	log.Info().Str("fund", id).Str("name", cfg.Name).Int("participants", cfg.ParticipantCount).Msg("fund created")
	return m, nil
}

// Get looks a fund up by id.
func (r *Registry) Get(id string) (*fund.Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, model.ErrFundNotFound.WithMetadata("fund", id)
	}
	return m, nil
}

// List returns every registered fund ordered by id.
func (r *Registry) List() []*fund.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*fund.Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered funds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
