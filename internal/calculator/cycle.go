package calculator

import (
	"time"

	"chitfund/internal/model"
)

// Schedule is the time layout of a fund: Cycles windows of DurationSeconds
// each, the first one opening at StartTimestamp (epoch seconds).
type Schedule struct {
	StartTimestamp  int64
	DurationSeconds int64
	Cycles          int
}

// ScheduleOf extracts the schedule from a fund configuration.
func ScheduleOf(cfg model.FundConfig) Schedule {
	return Schedule{
		StartTimestamp:  cfg.StartTimestamp,
		DurationSeconds: cfg.CycleDurationSeconds,
		Cycles:          cfg.CirculationCycles,
	}
}

// End returns the epoch second at which the last cycle closes.
func (s Schedule) End() int64 {
	return s.StartTimestamp + int64(s.Cycles)*s.DurationSeconds
}

// CurrentCycle maps now onto the schedule. It is a pure function of its
// inputs and must be re-evaluated whenever now changes.
func CurrentCycle(s Schedule, now time.Time) model.Position {
	ts := now.Unix()
	if ts < s.StartTimestamp {
		return model.Position{Phase: model.PhaseNotStarted, Index: -1}
	}
	if s.DurationSeconds <= 0 || s.Cycles <= 0 || ts >= s.End() {
		return model.Position{Phase: model.PhaseFinished, Index: s.Cycles}
	}
	idx := int((ts - s.StartTimestamp) / s.DurationSeconds)
	if idx >= s.Cycles {
		idx = s.Cycles - 1
	}
	return model.Position{Phase: model.PhaseRunning, Index: idx}
}

// Window returns the half-open interval [start, deadline) of cycle i.
func Window(s Schedule, i int) (start, deadline time.Time) {
	from := s.StartTimestamp + int64(i)*s.DurationSeconds
	return time.Unix(from, 0).UTC(), time.Unix(from+s.DurationSeconds, 0).UTC()
}

// LastCompleted returns the highest cycle index whose deadline has passed,
// or -1 if no cycle has completed yet.
func LastCompleted(s Schedule, now time.Time) int {
	pos := CurrentCycle(s, now)
	switch pos.Phase {
	case model.PhaseNotStarted:
		return -1
	case model.PhaseFinished:
		return s.Cycles - 1
	default:
		return pos.Index - 1
	}
}

// Elapsed returns how many cycles have fully elapsed at now.
func Elapsed(s Schedule, now time.Time) int {
	return LastCompleted(s, now) + 1
}

// Remaining returns how many cycles, including the running one, are left.
func Remaining(s Schedule, now time.Time) int {
	return s.Cycles - Elapsed(s, now)
}
