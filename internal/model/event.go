package model

import "time"

// EventType names a committed change to a fund.
type EventType string

const (
	EventActivate   EventType = "ACTIVATE"
	EventStake      EventType = "STAKE"
	EventContribute EventType = "CONTRIBUTE"
	EventClaim      EventType = "CLAIM"
	EventDefault    EventType = "DEFAULT"
	EventComplete   EventType = "COMPLETE"
	EventCancel     EventType = "CANCEL"
	EventWithdraw   EventType = "WITHDRAW"
)

// Event records one committed change. Cycle is -1 when the change is not
// tied to a cycle. CollateralHeld is the fund's collateral after the change.
type Event struct {
	FundID         string    `json:"fund_id"`
	Type           EventType `json:"type"`
	Participant    string    `json:"participant,omitempty"`
	Cycle          int       `json:"cycle"`
	Amount         int64     `json:"amount"`
	PoolBefore     int64     `json:"pool_before"`
	PoolAfter      int64     `json:"pool_after"`
	CollateralHeld int64     `json:"collateral_held"`
	At             time.Time `json:"at"`
	Note           string    `json:"note,omitempty"`
}
