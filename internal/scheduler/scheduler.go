package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"chitfund/internal/model"
	"chitfund/internal/notifier"
	"chitfund/internal/registry"
)

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Registry *registry.Registry
	Notifier notifier.Notifier
	Ctx      context.Context
	Now      func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, reg *registry.Registry, n notifier.Notifier) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Registry: reg,
		Notifier: n,
		Ctx:      ctx,
		Now:      time.Now,
	}
}

// RegisterAll registers the sweep and digest tasks.
func (s *Scheduler) RegisterAll(sweepCron, digestCron string) error {
	if _, err := s.Cron.AddFunc(sweepCron, s.sweepTask); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if _, err := s.Cron.AddFunc(digestCron, s.digestTask); err != nil {
		return fmt.Errorf("register digest task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// SweepNow runs the sweep immediately and returns how many funds changed.
func (s *Scheduler) SweepNow() int {
	return s.sweep()
}

func (s *Scheduler) sweepTask() {
	s.sweep()
}

// sweep commits activation and default detection for every fund. Each fund
// is handled on its own; a failure on one does not stop the others.
func (s *Scheduler) sweep() int {
	now := s.Now()
	changed := 0
	for _, m := range s.Registry.List() {
		if err := m.Refresh(s.Ctx); err != nil {
			log.Warn().Err(err).Str("fund", m.ID()).Msg("refresh fund")
		}
		rep, err := m.Tick(s.Ctx, now)
		if err != nil {
			log.Error().Err(err).Str("fund", m.ID()).Msg("sweep fund")
			continue
		}
		if !rep.Activated && len(rep.Flagged) == 0 {
			continue
		}
		changed++
		log.Info().Str("fund", m.ID()).Bool("activated", rep.Activated).Int("defaults", len(rep.Flagged)).Msg("fund advanced")
		if msg := notifier.FormatTick(m.Summary(now), rep.Activated, m.Defaulters(rep.Flagged)); msg != "" {
			s.trySend(msg)
		}
	}
	return changed
}

func (s *Scheduler) digestTask() {
	log.Info().Msg("running digest task")
	now := s.Now()
	for _, m := range s.Registry.List() {
		if err := m.Refresh(s.Ctx); err != nil {
			log.Warn().Err(err).Str("fund", m.ID()).Msg("refresh fund")
		}
		sum := m.Summary(now)
		if sum.Status != model.StatusActive {
			continue
		}
		s.trySend(notifier.FormatSummary(sum))
	}
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return usage
	}
	now := s.Now()
	switch fields[0] {
	case "/funds":
		var sums []model.Summary
		for _, m := range s.Registry.List() {
			sums = append(sums, m.Summary(now))
		}
		return notifier.FormatFundList(sums)
	case "/fund":
		if len(fields) < 2 {
			return "usage: /fund <id>"
		}
		m, err := s.Registry.Get(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatSnapshot(m.Snapshot(now))
	case "/defaulters":
		if len(fields) < 2 {
			return "usage: /defaulters <id>"
		}
		m, err := s.Registry.Get(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatDefaults(m.Snapshot(now).Defaults)
	case "/sweep":
		return fmt.Sprintf("sweep done, %d funds advanced", s.sweep())
	default:
		return usage
	}
}

const usage = "Available commands:\n• /funds\n• /fund <id>\n• /defaulters <id>\n• /sweep"

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Error().Err(err).Msg("send notification")
	}
}
