package fund

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"chitfund/internal/calculator"
	"chitfund/internal/ledger"
	"chitfund/internal/model"
)

// State is the aggregate of one fund: its frozen configuration, lifecycle
// status, participant ledger and balances.
type State struct {
	ID               string           `json:"id"`
	Config           model.FundConfig `json:"config"`
	Terms            model.Terms      `json:"terms"`
	Status           model.Status     `json:"status"`
	Ledger           *ledger.Ledger   `json:"ledger"`
	PoolBalance      int64            `json:"pool_balance"`
	TotalContributed int64            `json:"total_contributed"`
	TotalPaidOut     int64            `json:"total_paid_out"`
	CollateralHeld   int64            `json:"collateral_held"`
	CreatedAt        time.Time        `json:"created_at"`
	ActivatedAt      time.Time        `json:"activated_at,omitempty"`
	ClosedAt         time.Time        `json:"closed_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Version          uint64           `json:"version"`
}

// Create validates cfg and builds a fund in the CREATED status. The
// collateral amount is derived here once and never recomputed.
func Create(id string, cfg model.FundConfig, now time.Time) (*State, error) {
	cfg.Participants = normalizeAddresses(cfg.Participants)
	if cfg.CirculationCycles == 0 {
		cfg.CirculationCycles = cfg.ParticipantCount
	}
	if cfg.SettlementPolicy == "" {
		cfg.SettlementPolicy = model.SettlementStrict
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	pool := cfg.ContributionPerCycle * int64(cfg.ParticipantCount)
	return &State{
		ID:     id,
		Config: cfg,
		Terms: model.Terms{
			ContributionPerCycle: cfg.ContributionPerCycle,
			PoolPerCycle:         pool,
			CollateralAmount:     CollateralFor(pool, cfg.CollateralPercentage),
		},
		Status:    model.StatusCreated,
		Ledger:    ledger.New(cfg.Participants),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateID checks that id can name a fund. Ids become file names, so path
// separators and dot segments are refused.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return model.Errorf(model.CodeInvalidConfig, "fund id is required")
	case strings.TrimSpace(id) != id:
		return model.Errorf(model.CodeInvalidConfig, "fund id %q has surrounding spaces", id)
	case strings.ContainsAny(id, `/\:`+"\x00"), strings.Contains(id, ".."), strings.HasPrefix(id, "."):
		return model.Errorf(model.CodeInvalidConfig, "fund id %q must not contain path elements", id)
	}
	return nil
}

// CollateralFor returns percentage% of pool, rounded down, without
// overflowing for large pools.
func CollateralFor(pool int64, percentage int) int64 {
	p := int64(percentage)
	return pool/100*p + pool%100*p/100
}

// ValidateConfig reports every rule cfg violates as a single INVALID_CONFIG error.
func ValidateConfig(cfg model.FundConfig) error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(cfg.Name) == "" {
		add("name is required")
	}
	if cfg.ContributionPerCycle <= 0 {
		add("contribution_per_cycle must be positive")
	}
	if cfg.ParticipantCount <= 0 {
		add("participant_count must be positive")
	}
	if cfg.ParticipantCount != len(cfg.Participants) {
		add("participant_count is %d but %d participants were listed", cfg.ParticipantCount, len(cfg.Participants))
	}
	if cfg.CycleDurationSeconds <= 0 {
		add("cycle_duration_seconds must be positive")
	}
	if cfg.StartTimestamp < 0 {
		add("start_timestamp must not be negative")
	}
	if cfg.CirculationCycles <= 0 || cfg.CirculationCycles > cfg.ParticipantCount {
		add("circulation_cycles must be between 1 and participant_count")
	}
	if cfg.CollateralPercentage < 0 || cfg.CollateralPercentage > 100 {
		add("collateral_percentage must be between 0 and 100")
	}
	switch cfg.SettlementPolicy {
	case model.SettlementStrict, model.SettlementLenient:
	default:
		add("unknown settlement_policy %q", cfg.SettlementPolicy)
	}

	seen := make(map[string]struct{}, len(cfg.Participants))
	for i, p := range cfg.Participants {
		if p == "" {
			add("participant %d has an empty address", i)
			continue
		}
		if _, dup := seen[p]; dup {
			add("participant %s is listed more than once", p)
		}
		seen[p] = struct{}{}
	}

	if cfg.ContributionPerCycle > 0 && cfg.ParticipantCount > 0 &&
		cfg.ContributionPerCycle > math.MaxInt64/int64(cfg.ParticipantCount) {
		add("pool per cycle overflows")
	}
	if cfg.CycleDurationSeconds > 0 && cfg.CirculationCycles > 0 && cfg.StartTimestamp >= 0 &&
		cfg.CycleDurationSeconds > (math.MaxInt64-cfg.StartTimestamp)/int64(cfg.CirculationCycles) {
		add("schedule end overflows")
	}

	if err := errs.ErrorOrNil(); err != nil {
		return model.WrapError(model.CodeInvalidConfig, "invalid fund configuration", err)
	}
	return nil
}

func normalizeAddresses(in []string) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = strings.TrimSpace(a)
	}
	return out
}

// Schedule returns the fund's cycle schedule.
func (s *State) Schedule() calculator.Schedule {
	return calculator.ScheduleOf(s.Config)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.Config.Participants = append([]string(nil), s.Config.Participants...)
	if s.Ledger != nil {
		out.Ledger = s.Ledger.Clone()
	}
	return &out
}

// Open reports whether the fund still accepts participant actions.
func (s *State) Open() bool {
	return s.Status == model.StatusCreated || s.Status == model.StatusActive
}
