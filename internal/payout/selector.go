// Package payout decides which participant may draw the pool in a cycle.
package payout

import "chitfund/internal/model"

// Selector maps a cycle index to the participant entitled to claim in it.
type Selector interface {
	RecipientFor(participants []string, cycles, cycle int) (string, error)
}

// Rotation pays cycle i to participants[i]: the order fixed at creation is
// the payout order, and it never changes afterwards.
type Rotation struct{}

// RecipientFor implements Selector.
func (Rotation) RecipientFor(participants []string, cycles, cycle int) (string, error) {
	if cycle < 0 {
		return "", model.ErrNotStarted
	}
	if cycle >= cycles || cycle >= len(participants) {
		return "", model.ErrFinished
	}
	return participants[cycle], nil
}

// Recipients lists the designated recipient of every cycle in order.
func Recipients(sel Selector, participants []string, cycles int) ([]string, error) {
	out := make([]string, 0, cycles)
	for c := 0; c < cycles; c++ {
		r, err := sel.RecipientFor(participants, cycles, c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
