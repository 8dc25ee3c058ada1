// Package ledger keeps the per-participant obligations of one fund:
// collateral, contributions per cycle, the single claim, and defaults.
package ledger

import (
	"encoding/json"
	"slices"

	"chitfund/internal/model"
)

// Record is the state of one participant inside one fund.
type Record struct {
	Address           string
	Staked            bool
	CollateralPending bool
	Contributed       map[int]struct{}
	Claimed           bool
	ClaimedCycle      int
	Defaulted         map[int]struct{}
}

func newRecord(addr string) *Record {
	return &Record{
		Address:      addr,
		Contributed:  make(map[int]struct{}),
		Defaulted:    make(map[int]struct{}),
		ClaimedCycle: -1,
	}
}

// HasContributed reports whether the participant paid in for cycle.
func (r *Record) HasContributed(cycle int) bool {
	_, ok := r.Contributed[cycle]
	return ok
}

// HasDefaulted reports whether cycle was flagged as missed.
func (r *Record) HasDefaulted(cycle int) bool {
	_, ok := r.Defaulted[cycle]
	return ok
}

// ContributedCycles returns the contributed cycle indices in ascending order.
func (r *Record) ContributedCycles() []int { return sortedKeys(r.Contributed) }

// DefaultedCycles returns the defaulted cycle indices in ascending order.
func (r *Record) DefaultedCycles() []int { return sortedKeys(r.Defaulted) }

func (r *Record) clone() *Record {
	out := *r
	out.Contributed = make(map[int]struct{}, len(r.Contributed))
	for c := range r.Contributed {
		out.Contributed[c] = struct{}{}
	}
	out.Defaulted = make(map[int]struct{}, len(r.Defaulted))
	for c := range r.Defaulted {
		out.Defaulted[c] = struct{}{}
	}
	return &out
}

// Ledger holds the records of a fixed, ordered participant list.
// It is not safe for concurrent use; the owning fund serializes access.
type Ledger struct {
	order   []string
	records map[string]*Record
}

// New creates a ledger for the given participants in rotation order.
// Addresses are expected to be unique; the fund validates that.
func New(addresses []string) *Ledger {
	l := &Ledger{
		order:   slices.Clone(addresses),
		records: make(map[string]*Record, len(addresses)),
	}
	for _, a := range addresses {
		l.records[a] = newRecord(a)
	}
	return l
}

func (l *Ledger) lookup(addr string) (*Record, error) {
	r, ok := l.records[addr]
	if !ok {
		return nil, model.ErrUnknownParticipant.WithMetadata("participant", addr)
	}
	return r, nil
}

// StakeCollateral marks the participant's collateral as posted.
func (l *Ledger) StakeCollateral(addr string) error {
	r, err := l.lookup(addr)
	if err != nil {
		return err
	}
	if r.Staked {
		return model.ErrAlreadyStaked.WithMetadata("participant", addr)
	}
	r.Staked = true
	r.CollateralPending = true
	return nil
}

// CheckContribution validates a contribution without recording it.
func (l *Ledger) CheckContribution(addr string, cycle int) error {
	r, err := l.lookup(addr)
	if err != nil {
		return err
	}
	if !r.Staked {
		return model.ErrCollateralRequired.WithMetadata("participant", addr)
	}
	if r.HasContributed(cycle) {
		return model.ErrAlreadyContributed.WithMetadata("participant", addr)
	}
	return nil
}

// RecordContribution adds cycle to the participant's contributed set.
func (l *Ledger) RecordContribution(addr string, cycle int) error {
	if err := l.CheckContribution(addr, cycle); err != nil {
		return err
	}
	l.records[addr].Contributed[cycle] = struct{}{}
	return nil
}

// CheckClaim validates a claim without recording it.
func (l *Ledger) CheckClaim(addr string) error {
	r, err := l.lookup(addr)
	if err != nil {
		return err
	}
	if r.Claimed {
		return model.ErrAlreadyClaimed.WithMetadata("participant", addr)
	}
	return nil
}

// RecordClaim marks the participant as paid out in cycle. A participant
// claims at most once over the fund's lifetime.
func (l *Ledger) RecordClaim(addr string, cycle int) error {
	if err := l.CheckClaim(addr); err != nil {
		return err
	}
	r := l.records[addr]
	r.Claimed = true
	r.ClaimedCycle = cycle
	return nil
}

// MarkDefault flags cycle as missed by addr. It reports whether the flag is
// new; flagging twice is a no-op.
func (l *Ledger) MarkDefault(addr string, cycle int) bool {
	r, ok := l.records[addr]
	if !ok || r.HasDefaulted(cycle) {
		return false
	}
	r.Defaulted[cycle] = struct{}{}
	return true
}

// ReleaseCollateral hands staked collateral back. It fails when nothing is held.
func (l *Ledger) ReleaseCollateral(addr string) error {
	r, err := l.lookup(addr)
	if err != nil {
		return err
	}
	if !r.CollateralPending {
		return model.ErrNothingToWithdraw.WithMetadata("participant", addr)
	}
	r.CollateralPending = false
	return nil
}

// Record returns a copy of the participant's record.
func (l *Ledger) Record(addr string) (Record, bool) {
	r, ok := l.records[addr]
	if !ok {
		return Record{}, false
	}
	return *r.clone(), true
}

// At returns the record at rotation index i.
func (l *Ledger) At(i int) (Record, bool) {
	if i < 0 || i >= len(l.order) {
		return Record{}, false
	}
	return l.Record(l.order[i])
}

// Contains reports whether addr is a participant.
func (l *Ledger) Contains(addr string) bool {
	_, ok := l.records[addr]
	return ok
}

// Len returns the number of participants.
func (l *Ledger) Len() int { return len(l.order) }

// Addresses returns the participants in rotation order.
func (l *Ledger) Addresses() []string { return slices.Clone(l.order) }

// HasContributed reports whether addr paid in for cycle.
func (l *Ledger) HasContributed(addr string, cycle int) bool {
	r, ok := l.records[addr]
	return ok && r.HasContributed(cycle)
}

// Contributors counts the participants that paid in for cycle.
func (l *Ledger) Contributors(cycle int) int {
	n := 0
	for _, r := range l.records {
		if r.HasContributed(cycle) {
			n++
		}
	}
	return n
}

// AllContributed reports whether every participant paid in for cycle.
func (l *Ledger) AllContributed(cycle int) bool {
	return l.Contributors(cycle) == len(l.order)
}

// AnyContribution reports whether any contribution was ever recorded.
func (l *Ledger) AnyContribution() bool {
	for _, r := range l.records {
		if len(r.Contributed) > 0 {
			return true
		}
	}
	return false
}

// Defaults lists every flagged default ordered by cycle, then rotation index.
func (l *Ledger) Defaults() []model.Default {
	var out []model.Default
	for _, a := range l.order {
		for c := range l.records[a].Defaulted {
			out = append(out, model.Default{Participant: a, Cycle: c})
		}
	}
	idx := make(map[string]int, len(l.order))
	for i, a := range l.order {
		idx[a] = i
	}
	slices.SortFunc(out, func(x, y model.Default) int {
		if x.Cycle != y.Cycle {
			return x.Cycle - y.Cycle
		}
		return idx[x.Participant] - idx[y.Participant]
	})
	return out
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		order:   slices.Clone(l.order),
		records: make(map[string]*Record, len(l.records)),
	}
	for a, r := range l.records {
		out.records[a] = r.clone()
	}
	return out
}

type recordJSON struct {
	Address           string `json:"address"`
	Staked            bool   `json:"staked"`
	CollateralPending bool   `json:"collateral_pending"`
	Contributed       []int  `json:"contributed"`
	Claimed           bool   `json:"claimed"`
	ClaimedCycle      int    `json:"claimed_cycle"`
	Defaulted         []int  `json:"defaulted"`
}

// MarshalJSON encodes the records in rotation order with sorted cycle sets.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	out := make([]recordJSON, 0, len(l.order))
	for _, a := range l.order {
		r := l.records[a]
		out = append(out, recordJSON{
			Address:           r.Address,
			Staked:            r.Staked,
			CollateralPending: r.CollateralPending,
			Contributed:       r.ContributedCycles(),
			Claimed:           r.Claimed,
			ClaimedCycle:      r.ClaimedCycle,
			Defaulted:         r.DefaultedCycles(),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a ledger written by MarshalJSON.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var in []recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	l.order = make([]string, 0, len(in))
	l.records = make(map[string]*Record, len(in))
	for _, rj := range in {
		r := newRecord(rj.Address)
		r.Staked = rj.Staked
		r.CollateralPending = rj.CollateralPending
		r.Claimed = rj.Claimed
		r.ClaimedCycle = rj.ClaimedCycle
		for _, c := range rj.Contributed {
			r.Contributed[c] = struct{}{}
		}
		for _, c := range rj.Defaulted {
			r.Defaulted[c] = struct{}{}
		}
		l.order = append(l.order, rj.Address)
		l.records[rj.Address] = r
	}
	return nil
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
