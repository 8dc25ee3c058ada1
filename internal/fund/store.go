package fund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"chitfund/internal/model"
)

// Store durably commits fund states. Save must be atomic: after it returns
// an error the previously saved state is still the current one.
//
// Save is a compare-and-swap on State.Version. When a state with the same id
// is already stored, its version must be s.Version-1; otherwise Save fails
// with ErrConflict and stores nothing. A fund that is not stored yet is
// accepted at any version.
type Store interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, id string) (*State, error)
	List(ctx context.Context) ([]*State, error)
}

// FileStore keeps one JSON document per fund in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

const lockRetryDelay = 10 * time.Millisecond

// Save writes the state to a temp file and renames it into place. The
// version check and the rename happen under an exclusive lock on the fund's
// lock file, so writers in other processes are serialized too.
func (f *FileStore) Save(ctx context.Context, s *State) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(f.dir, s.ID+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock fund %s: %w", s.ID, err)
	}
	if !locked {
		return fmt.Errorf("lock fund %s: not acquired", s.ID)
	}
	defer lock.Unlock()

	current, err := f.Load(ctx, s.ID)
	switch {
	case err == nil:
		if err := checkVersion(current, s); err != nil {
			return err
		}
	case !errors.Is(err, model.ErrFundNotFound):
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fund %s: %w", s.ID, err)
	}
	tmp, err := os.CreateTemp(f.dir, s.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write fund %s: %w", s.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fund %s: %w", s.ID, err)
	}
	return os.Rename(tmp.Name(), f.path(s.ID))
}

// Load reads a fund. A missing file is reported as FUND_NOT_FOUND.
func (f *FileStore) Load(_ context.Context, id string) (*State, error) {
	if err := ValidateID(id); err != nil {
		return nil, model.ErrFundNotFound.WithMetadata("fund", id)
	}
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrFundNotFound.WithMetadata("fund", id)
		}
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode fund %s: %w", id, err)
	}
	return &s, nil
}

// List loads every fund in the directory ordered by creation time.
func (f *FileStore) List(ctx context.Context) ([]*State, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var out []*State
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := f.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortStates(out)
	return out, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Save(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.states[s.ID]; ok {
		if err := checkVersion(current, s); err != nil {
			return err
		}
	}
	m.states[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return nil, model.ErrFundNotFound.WithMetadata("fund", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	sortStates(out)
	return out, nil
}

func checkVersion(current, next *State) error {
	if current.Version+1 != next.Version {
		return model.Errorf(model.CodeConflict, "fund %s is at version %d, cannot commit version %d",
			next.ID, current.Version, next.Version)
	}
	return nil
}

func sortStates(states []*State) {
	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.Before(states[j].CreatedAt)
		}
		return states[i].ID < states[j].ID
	})
}
