package fund

import (
	"time"

	"chitfund/internal/calculator"
	"chitfund/internal/model"
)

// Snapshot returns the read-only projection of the committed state at now.
func (m *Machine) Snapshot(now time.Time) model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.state
	pos := calculator.CurrentCycle(s.Schedule(), now)
	snap := model.Snapshot{
		Summary:          summarize(s, m, now),
		Defaults:         describeDefaults(s, s.Ledger.Defaults()),
		CollateralHeld:   s.CollateralHeld,
		TotalContributed: s.TotalContributed,
		TotalPaidOut:     s.TotalPaidOut,
		Version:          s.Version,
	}
	for _, addr := range s.Ledger.Addresses() {
		snap.Participants = append(snap.Participants, participantStatus(s, addr, pos))
	}
	return snap
}

// Summary returns the fund summary at now.
func (m *Machine) Summary(now time.Time) model.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return summarize(m.state, m, now)
}

// ParticipantStatus reports one participant's standing at now.
func (m *Machine) ParticipantStatus(participant string, now time.Time) (model.ParticipantStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := requireParticipant(m.state, participant); err != nil {
		return model.ParticipantStatus{}, err
	}
	pos := calculator.CurrentCycle(m.state.Schedule(), now)
	return participantStatus(m.state, participant, pos), nil
}

// ParticipantAt returns the record at rotation index i, with HasContributed
// referring to the cycle running at now.
func (m *Machine) ParticipantAt(i int, now time.Time) (model.ParticipantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.state.Ledger.At(i)
	if !ok {
		return model.ParticipantRecord{}, model.Errorf(model.CodeUnknownParticipant, "no participant at index %d", i)
	}
	pos := calculator.CurrentCycle(m.state.Schedule(), now)
	return model.ParticipantRecord{
		Index:               i,
		Address:             rec.Address,
		HasContributed:      pos.Running() && rec.HasContributed(pos.Index),
		HasStakedCollateral: rec.Staked,
		HasClaimed:          rec.Claimed,
	}, nil
}

// Defaulters adds the missed deadline and the amount due to each default.
func (m *Machine) Defaulters(defaults []model.Default) []model.Defaulter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return describeDefaults(m.state, defaults)
}

func describeDefaults(s *State, defaults []model.Default) []model.Defaulter {
	if len(defaults) == 0 {
		return nil
	}
	sched := s.Schedule()
	out := make([]model.Defaulter, 0, len(defaults))
	for _, d := range defaults {
		_, deadline := calculator.Window(sched, d.Cycle)
		out = append(out, model.Defaulter{
			Participant: d.Participant,
			Cycle:       d.Cycle,
			MissedAt:    deadline,
			AmountDue:   s.Terms.ContributionPerCycle,
		})
	}
	return out
}

func participantStatus(s *State, addr string, pos model.Position) model.ParticipantStatus {
	rec, _ := s.Ledger.Record(addr)
	return model.ParticipantStatus{
		Address:                    addr,
		HasStakedCollateral:        rec.Staked,
		HasContributedCurrentCycle: pos.Running() && rec.HasContributed(pos.Index),
		HasClaimed:                 rec.Claimed,
		DefaultedCycles:            rec.DefaultedCycles(),
	}
}

func summarize(s *State, m *Machine, now time.Time) model.Summary {
	sched := s.Schedule()
	pos := calculator.CurrentCycle(sched, now)
	sum := model.Summary{
		ID:                   s.ID,
		Name:                 s.Config.Name,
		Status:               s.Status,
		Phase:                pos.Phase,
		CurrentCycle:         pos.Index,
		TotalInCirculation:   s.Terms.PoolPerCycle * int64(s.Config.CirculationCycles),
		ParticipantCount:     s.Config.ParticipantCount,
		CollateralAmount:     s.Terms.CollateralAmount,
		ContributionPerCycle: s.Terms.ContributionPerCycle,
		StartTime:            time.Unix(sched.StartTimestamp, 0).UTC(),
		CycleDuration:        time.Duration(sched.DurationSeconds) * time.Second,
		EndsAt:               time.Unix(sched.End(), 0).UTC(),
		ElapsedCycles:        calculator.Elapsed(sched, now),
		RemainingCycles:      calculator.Remaining(sched, now),
		PoolBalance:          s.PoolBalance,
	}
	next := pos.Index
	if pos.Phase == model.PhaseNotStarted {
		next = 0
	}
	if r, err := m.selector.RecipientFor(s.Config.Participants, sched.Cycles, next); err == nil {
		sum.NextRecipient = r
	}
	return sum
}
