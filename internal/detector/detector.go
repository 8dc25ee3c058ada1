// Package detector flags participants that missed a contribution deadline.
package detector

import (
	"chitfund/internal/ledger"
	"chitfund/internal/model"
)

// Report is the outcome of one evaluation.
type Report struct {
	// Defaults is every default known after the evaluation, previously
	// flagged ones included.
	Defaults []model.Default
	// Flagged holds the defaults this evaluation added.
	Flagged []model.Default
}

// Evaluate flags every (participant, cycle) pair with cycle <= upToCycle and
// no recorded contribution. Only completed cycles may be passed in. Calling
// it again, or with a smaller upToCycle, never removes a flag.
func Evaluate(l *ledger.Ledger, upToCycle int) Report {
	var rep Report
	for c := 0; c <= upToCycle; c++ {
		for _, addr := range l.Addresses() {
			if l.HasContributed(addr, c) {
				continue
			}
			if l.MarkDefault(addr, c) {
				rep.Flagged = append(rep.Flagged, model.Default{Participant: addr, Cycle: c})
			}
		}
	}
	rep.Defaults = l.Defaults()
	return rep
}
