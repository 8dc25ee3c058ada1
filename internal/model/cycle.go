package model

// Phase is where a point in time falls relative to a fund's cycle schedule.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseRunning    Phase = "RUNNING"
	PhaseFinished   Phase = "FINISHED"
)

// Position locates a point in time on the cycle schedule. Index is only
// meaningful while Phase is PhaseRunning.
type Position struct {
	Phase Phase
	Index int
}

// Running reports whether the position lies inside a cycle window.
func (p Position) Running() bool { return p.Phase == PhaseRunning }
