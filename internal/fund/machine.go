package fund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chitfund/internal/calculator"
	"chitfund/internal/detector"
	"chitfund/internal/model"
	"chitfund/internal/payout"
)

// EventSink receives the events of every committed operation, in commit order.
type EventSink interface {
	RecordEvent(evt *model.Event) error
}

// OperationObserver is implemented by sinks that also track rejected operations.
type OperationObserver interface {
	ObserveOperation(fundID, op string, err error)
}

// Machine serializes every operation on one fund. Operations on different
// machines are independent.
type Machine struct {
	id       string
	mu       sync.RWMutex
	state    *State
	store    Store
	selector payout.Selector
	sinks    []EventSink
}

// NewMachine wraps an existing state. The state must not be used by the caller afterwards.
func NewMachine(state *State, store Store, sinks ...EventSink) *Machine {
	return &Machine{
		id:       state.ID,
		state:    state,
		store:    store,
		selector: payout.Rotation{},
		sinks:    sinks,
	}
}

// ID returns the fund identity.
func (m *Machine) ID() string {
	return m.id
}

// State returns a copy of the committed state.
func (m *Machine) State() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Refresh adopts the stored state when another writer committed a newer
// version of the fund.
func (m *Machine) Refresh(ctx context.Context) error {
	latest, err := m.store.Load(ctx, m.id)
	if err != nil {
		return fmt.Errorf("reload fund %s: %w", m.id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if latest.Version > m.state.Version {
		m.state = latest
	}
	return nil
}

// txn is one operation in flight. It mutates a private copy of the state and
// collects the events to publish if the copy gets committed.
type txn struct {
	state    *State
	now      time.Time
	selector payout.Selector
	events   []model.Event
}

func (tx *txn) emit(typ model.EventType, participant string, cycle int, amount, poolBefore int64, note string) {
	tx.events = append(tx.events, model.Event{
		FundID:         tx.state.ID,
		Type:           typ,
		Participant:    participant,
		Cycle:          cycle,
		Amount:         amount,
		PoolBefore:     poolBefore,
		PoolAfter:      tx.state.PoolBalance,
		CollateralHeld: tx.state.CollateralHeld,
		At:             tx.now,
		Note:           note,
	})
}

func (tx *txn) position() model.Position {
	return calculator.CurrentCycle(tx.state.Schedule(), tx.now)
}

// housekeep applies the transitions that follow from time alone: activation
// at the start timestamp and default flags for every completed cycle.
func (tx *txn) housekeep() {
	s := tx.state
	if s.Status == model.StatusCreated && tx.now.Unix() >= s.Config.StartTimestamp {
		s.Status = model.StatusActive
		s.ActivatedAt = tx.now
		tx.emit(model.EventActivate, "", -1, 0, s.PoolBalance, "")
	}
	if s.Status != model.StatusActive && s.Status != model.StatusCompleted {
		return
	}
	last := calculator.LastCompleted(s.Schedule(), tx.now)
	if last < 0 {
		return
	}
	for _, d := range detector.Evaluate(s.Ledger, last).Flagged {
		tx.emit(model.EventDefault, d.Participant, d.Cycle, 0, s.PoolBalance, "missed contribution deadline")
	}
}

// maxAttempts bounds how often an operation is re-run after another writer
// committed the same fund first.
const maxAttempts = 3

// apply runs fn against a copy of the state and commits it only if fn
// succeeds and the store accepts it. A failed operation leaves no trace.
// When the store reports a conflict, the committed state is reloaded and fn
// runs again against it; fn must therefore only write through tx or reset
// what it captures.
func (m *Machine) apply(ctx context.Context, op string, now time.Time, fn func(tx *txn) error) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 1; ; attempt++ {
		events, err := m.attempt(ctx, now, fn)
		if !errors.Is(err, model.ErrConflict) || attempt == maxAttempts {
			m.observe(op, err)
			if err == nil {
				m.publish(events)
			}
			return events, err
		}
		log.Warn().Err(err).Str("fund", m.id).Str("op", op).Int("attempt", attempt).Msg("stale fund state, reloading")
		latest, lerr := m.store.Load(ctx, m.id)
		if lerr != nil {
			err = fmt.Errorf("reload fund %s: %w", m.id, lerr)
			m.observe(op, err)
			return nil, err
		}
		m.state = latest
	}
}

// attempt runs fn once against a copy of the current state.
func (m *Machine) attempt(ctx context.Context, now time.Time, fn func(tx *txn) error) ([]model.Event, error) {
	tx := &txn{state: m.state.Clone(), now: now, selector: m.selector}
	tx.housekeep()
	if err := fn(tx); err != nil {
		return nil, err
	}
	if len(tx.events) == 0 {
		return nil, nil
	}

	tx.state.Version++
	tx.state.UpdatedAt = now
	if err := m.store.Save(ctx, tx.state); err != nil {
		return nil, fmt.Errorf("commit fund %s: %w", m.id, err)
	}
	m.state = tx.state
	return tx.events, nil
}

func (m *Machine) observe(op string, err error) {
	for _, s := range m.sinks {
		if o, ok := s.(OperationObserver); ok {
			o.ObserveOperation(m.id, op, err)
		}
	}
}

func (m *Machine) publish(events []model.Event) {
	for i := range events {
		evt := events[i]
		log.Debug().Str("fund", evt.FundID).Str("event", string(evt.Type)).
			Str("participant", evt.Participant).Int("cycle", evt.Cycle).
			Int64("amount", evt.Amount).Msg("fund event")
		for _, s := range m.sinks {
			if err := s.RecordEvent(&evt); err != nil {
				log.Error().Err(err).Str("fund", evt.FundID).Msg("record fund event")
			}
		}
	}
}

func requireParticipant(s *State, participant string) error {
	if !s.Ledger.Contains(participant) {
		return model.ErrUnknownParticipant.WithMetadata("participant", participant)
	}
	return nil
}

// Activate moves the fund to ACTIVE once its start time is reached. Calling
// it on an active fund is a no-op.
func (m *Machine) Activate(ctx context.Context, now time.Time) error {
	_, err := m.apply(ctx, "activate", now, func(tx *txn) error {
		switch tx.state.Status {
		case model.StatusActive, model.StatusCompleted:
			return nil
		case model.StatusCancelled:
			return model.ErrInvalidState
		}
		return model.ErrNotStarted
	})
	return err
}

// Stake posts the participant's collateral. amount must equal the fund's
// collateral amount. Staking is allowed before the fund starts.
func (m *Machine) Stake(ctx context.Context, participant string, amount int64, now time.Time) error {
	_, err := m.apply(ctx, "stake", now, func(tx *txn) error {
		s := tx.state
		if !s.Open() {
			return model.ErrInvalidState
		}
		if err := requireParticipant(s, participant); err != nil {
			return err
		}
		if tx.position().Phase == model.PhaseFinished {
			return model.ErrFinished
		}
		if rec, _ := s.Ledger.Record(participant); rec.Staked {
			return model.ErrAlreadyStaked.WithMetadata("participant", participant)
		}
		if amount != s.Terms.CollateralAmount {
			return model.Errorf(model.CodeWrongAmount, "collateral is %d, got %d", s.Terms.CollateralAmount, amount)
		}
		if err := s.Ledger.StakeCollateral(participant); err != nil {
			return err
		}
		s.CollateralHeld += amount
		tx.emit(model.EventStake, participant, -1, amount, s.PoolBalance, "")
		return nil
	})
	return err
}

// Contribute pays the participant's share for the running cycle into the
// pool. amount must equal the per-cycle contribution exactly.
func (m *Machine) Contribute(ctx context.Context, participant string, amount int64, now time.Time) error {
	_, err := m.apply(ctx, "contribute", now, func(tx *txn) error {
		s := tx.state
		if !s.Open() {
			return model.ErrInvalidState
		}
		if err := requireParticipant(s, participant); err != nil {
			return err
		}
		pos := tx.position()
		switch pos.Phase {
		case model.PhaseNotStarted:
			return model.ErrNotStarted
		case model.PhaseFinished:
			return model.ErrFinished
		}
		if err := s.Ledger.CheckContribution(participant, pos.Index); err != nil {
			return err
		}
		if amount != s.Terms.ContributionPerCycle {
			return model.Errorf(model.CodeWrongAmount, "contribution is %d, got %d", s.Terms.ContributionPerCycle, amount)
		}
		if err := s.Ledger.RecordContribution(participant, pos.Index); err != nil {
			return err
		}
		before := s.PoolBalance
		s.PoolBalance += amount
		s.TotalContributed += amount
		tx.emit(model.EventContribute, participant, pos.Index, amount, before, "")
		return nil
	})
	return err
}

// Claim pays the running cycle's pool to its recipient and returns the
// amount paid. The last claim completes the fund.
func (m *Machine) Claim(ctx context.Context, participant string, now time.Time) (int64, error) {
	events, err := m.apply(ctx, "claim", now, func(tx *txn) error {
		s := tx.state
		if s.Status == model.StatusCancelled {
			return model.ErrInvalidState
		}
		if err := requireParticipant(s, participant); err != nil {
			return err
		}
		pos := tx.position()
		switch pos.Phase {
		case model.PhaseNotStarted:
			return model.ErrNotStarted
		case model.PhaseFinished:
			return model.ErrFinished
		}
		recipient, err := tx.selector.RecipientFor(s.Config.Participants, s.Config.CirculationCycles, pos.Index)
		if err != nil {
			return err
		}
		if recipient != participant {
			return model.ErrNotRecipient.WithMetadata("participant", participant, "recipient", recipient)
		}
		if err := s.Ledger.CheckClaim(participant); err != nil {
			return err
		}

		amount, err := settle(s, pos.Index)
		if err != nil {
			return err
		}
		if err := s.Ledger.RecordClaim(participant, pos.Index); err != nil {
			return err
		}
		before := s.PoolBalance
		s.PoolBalance -= amount
		s.TotalPaidOut += amount
		tx.emit(model.EventClaim, participant, pos.Index, amount, before, "")

		if allRecipientsPaid(s, tx.selector) {
			s.Status = model.StatusCompleted
			s.ClosedAt = tx.now
			tx.emit(model.EventComplete, "", pos.Index, 0, s.PoolBalance, "")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		if e.Type == model.EventClaim {
			return e.Amount, nil
		}
	}
	return 0, nil
}

// settle returns the amount the recipient of cycle may draw.
func settle(s *State, cycle int) (int64, error) {
	var amount int64
	switch s.Config.SettlementPolicy {
	case model.SettlementLenient:
		amount = int64(s.Ledger.Contributors(cycle)) * s.Terms.ContributionPerCycle
		if amount == 0 {
			return 0, model.Errorf(model.CodeCycleNotSettled, "nothing collected for cycle %d", cycle)
		}
	default:
		if !s.Ledger.AllContributed(cycle) {
			return 0, model.Errorf(model.CodeCycleNotSettled, "%d of %d contributions collected for cycle %d",
				s.Ledger.Contributors(cycle), s.Ledger.Len(), cycle)
		}
		amount = s.Terms.PoolPerCycle
	}
	// The pool never goes negative.
	if amount > s.PoolBalance {
		return 0, model.Errorf(model.CodeCycleNotSettled, "pool holds %d, payout needs %d", s.PoolBalance, amount)
	}
	return amount, nil
}

func allRecipientsPaid(s *State, sel payout.Selector) bool {
	recipients, err := payout.Recipients(sel, s.Config.Participants, s.Config.CirculationCycles)
	if err != nil {
		return false
	}
	for _, r := range recipients {
		if rec, _ := s.Ledger.Record(r); !rec.Claimed {
			return false
		}
	}
	return true
}

// EvaluateDefaults flags missed contributions for completed cycles up to
// upToCycle and returns the defaults known for those cycles. It may be
// called any number of times.
func (m *Machine) EvaluateDefaults(ctx context.Context, upToCycle int, now time.Time) ([]model.Default, error) {
	var out []model.Default
	_, err := m.apply(ctx, "evaluate_defaults", now, func(tx *txn) error {
		out = nil
		s := tx.state
		limit := calculator.LastCompleted(s.Schedule(), tx.now)
		if upToCycle < limit {
			limit = upToCycle
		}
		if s.Status == model.StatusActive || s.Status == model.StatusCompleted {
			detector.Evaluate(s.Ledger, limit)
		}
		for _, d := range s.Ledger.Defaults() {
			if d.Cycle <= limit {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TickReport describes what a Tick changed.
type TickReport struct {
	Activated bool
	Flagged   []model.Default
}

// Tick commits the time-driven transitions due at now.
func (m *Machine) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	events, err := m.apply(ctx, "tick", now, func(*txn) error { return nil })
	if err != nil {
		return TickReport{}, err
	}
	var rep TickReport
	for _, e := range events {
		switch e.Type {
		case model.EventActivate:
			rep.Activated = true
		case model.EventDefault:
			rep.Flagged = append(rep.Flagged, model.Default{Participant: e.Participant, Cycle: e.Cycle})
		}
	}
	return rep, nil
}

// Cancel closes a fund that has not started yet and refunds every staked
// collateral. It returns the refunds by participant.
func (m *Machine) Cancel(ctx context.Context, now time.Time) (map[string]int64, error) {
	var refunds map[string]int64
	_, err := m.apply(ctx, "cancel", now, func(tx *txn) error {
		refunds = make(map[string]int64)
		s := tx.state
		if s.Status != model.StatusCreated || s.Ledger.AnyContribution() {
			return model.ErrInvalidState
		}
		for _, addr := range s.Ledger.Addresses() {
			if err := s.Ledger.ReleaseCollateral(addr); err != nil {
				continue
			}
			s.CollateralHeld -= s.Terms.CollateralAmount
			refunds[addr] = s.Terms.CollateralAmount
			tx.emit(model.EventWithdraw, addr, -1, s.Terms.CollateralAmount, s.PoolBalance, "refund on cancel")
		}
		s.Status = model.StatusCancelled
		s.ClosedAt = tx.now
		tx.emit(model.EventCancel, "", -1, 0, s.PoolBalance, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

// WithdrawCollateral returns a participant's collateral once the fund has
// completed. Collateral of a participant with any default stays locked.
func (m *Machine) WithdrawCollateral(ctx context.Context, participant string, now time.Time) (int64, error) {
	var amount int64
	_, err := m.apply(ctx, "withdraw", now, func(tx *txn) error {
		s := tx.state
		if s.Status != model.StatusCompleted && s.Status != model.StatusCancelled {
			return model.ErrInvalidState
		}
		if err := requireParticipant(s, participant); err != nil {
			return err
		}
		if rec, _ := s.Ledger.Record(participant); len(rec.Defaulted) > 0 {
			return model.Errorf(model.CodeNothingToWithdraw, "collateral of %s is locked by %d defaults", participant, len(rec.Defaulted))
		}
		if err := s.Ledger.ReleaseCollateral(participant); err != nil {
			return err
		}
		amount = s.Terms.CollateralAmount
		s.CollateralHeld -= amount
		tx.emit(model.EventWithdraw, participant, -1, amount, s.PoolBalance, "")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}
