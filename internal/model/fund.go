package model

import "time"

// Status is the lifecycle state of a fund.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// SettlementPolicy decides when a cycle's recipient may draw the pool.
type SettlementPolicy string

const (
	// SettlementStrict pays out only once every participant contributed for the cycle.
	SettlementStrict SettlementPolicy = "strict"
	// SettlementLenient pays out whatever was collected for the cycle.
	SettlementLenient SettlementPolicy = "lenient"
)

// FundConfig is the creation input of a fund. It is frozen once the fund exists.
type FundConfig struct {
	Name                 string           `yaml:"name" json:"name"`
	ContributionPerCycle int64            `yaml:"contribution_per_cycle" json:"contribution_per_cycle"`
	ParticipantCount     int              `yaml:"participant_count" json:"participant_count"`
	CirculationCycles    int              `yaml:"circulation_cycles" json:"circulation_cycles"`
	CycleDurationSeconds int64            `yaml:"cycle_duration_seconds" json:"cycle_duration_seconds"`
	StartTimestamp       int64            `yaml:"start_timestamp" json:"start_timestamp"`
	Participants         []string         `yaml:"participants" json:"participants"`
	CollateralPercentage int              `yaml:"collateral_percentage" json:"collateral_percentage"`
	SettlementPolicy     SettlementPolicy `yaml:"settlement_policy" json:"settlement_policy"`
}

// Terms are the derived, immutable economic terms of a fund.
type Terms struct {
	ContributionPerCycle int64 `json:"contribution_per_cycle"`
	CollateralAmount     int64 `json:"collateral_amount"`
	PoolPerCycle         int64 `json:"pool_per_cycle"`
}

// Default marks a participant that missed a cycle's contribution deadline.
type Default struct {
	Participant string `json:"participant"`
	Cycle       int    `json:"cycle"`
}

// Defaulter is a Default as shown to operators: when the contribution was
// due and how much was missed.
type Defaulter struct {
	Participant string    `json:"participant"`
	Cycle       int       `json:"cycle"`
	MissedAt    time.Time `json:"missed_at"`
	AmountDue   int64     `json:"amount_due"`
}

// ParticipantStatus answers "where does this participant stand right now".
type ParticipantStatus struct {
	Address                    string `json:"address"`
	HasStakedCollateral        bool   `json:"has_staked_collateral"`
	HasContributedCurrentCycle bool   `json:"has_contributed_current_cycle"`
	HasClaimed                 bool   `json:"has_claimed"`
	DefaultedCycles            []int  `json:"defaulted_cycles,omitempty"`
}

// ParticipantRecord is the per-index view of a participant.
type ParticipantRecord struct {
	Index               int    `json:"index"`
	Address             string `json:"address"`
	HasContributed      bool   `json:"has_contributed"`
	HasStakedCollateral bool   `json:"has_staked_collateral"`
	HasClaimed          bool   `json:"has_claimed"`
}

// Summary is the fund summary consumed by clients as-is.
type Summary struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Status               Status        `json:"status"`
	Phase                Phase         `json:"phase"`
	CurrentCycle         int           `json:"current_cycle"`
	NextRecipient        string        `json:"next_recipient,omitempty"`
	TotalInCirculation   int64         `json:"total_in_circulation"`
	ParticipantCount     int           `json:"participant_count"`
	CollateralAmount     int64         `json:"collateral_amount"`
	ContributionPerCycle int64         `json:"contribution_per_cycle"`
	StartTime            time.Time     `json:"start_time"`
	CycleDuration        time.Duration `json:"cycle_duration"`
	EndsAt               time.Time     `json:"ends_at"`
	ElapsedCycles        int           `json:"elapsed_cycles"`
	RemainingCycles      int           `json:"remaining_cycles"`
	PoolBalance          int64         `json:"pool_balance"`
}

// Snapshot is a read-only projection of a fund at a point in time.
type Snapshot struct {
	Summary
	Participants     []ParticipantStatus `json:"participants"`
	Defaults         []Defaulter         `json:"defaults,omitempty"`
	CollateralHeld   int64               `json:"collateral_held"`
	TotalContributed int64               `json:"total_contributed"`
	TotalPaidOut     int64               `json:"total_paid_out"`
	Version          uint64              `json:"version"`
}
