package recorder

import "chitfund/internal/model"

// Totals are the money flows of one fund reconstructed from its history.
type Totals struct {
	Contributed int64
	PaidOut     int64
	Staked      int64
	Withdrawn   int64
}

// Pool is the balance implied by the history: contributions minus claims.
func (t Totals) Pool() int64 { return t.Contributed - t.PaidOut }

// Recorder persists fund history for audit and analysis.
type Recorder interface {
	RecordEvent(evt *model.Event) error
	Events(fundID string) ([]model.Event, error)
	Totals(fundID string) (Totals, error)
	Close() error
}
