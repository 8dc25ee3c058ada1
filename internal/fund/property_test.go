package fund

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"chitfund/internal/model"
)

// Random operation sequences never break the accounting of a fund.
func TestMachine_RandomOperations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "participants")
		participants := make([]string, n)
		for i := range participants {
			participants[i] = fmt.Sprintf("p%d", i)
		}
		cfg := model.FundConfig{
			Name:                 "prop",
			ContributionPerCycle: rapid.Int64Range(1, 1000).Draw(t, "contribution"),
			ParticipantCount:     n,
			CirculationCycles:    rapid.IntRange(1, n).Draw(t, "cycles"),
			CycleDurationSeconds: 100,
			StartTimestamp:       1000,
			Participants:         participants,
			CollateralPercentage: rapid.IntRange(0, 100).Draw(t, "pct"),
			SettlementPolicy:     rapid.SampledFrom([]model.SettlementPolicy{model.SettlementStrict, model.SettlementLenient}).Draw(t, "policy"),
		}
		s, err := Create("prop", cfg, time.Unix(0, 0))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		m := NewMachine(s, NewMemoryStore())
		ctx := context.Background()
		terms := s.Terms

		now := int64(900)
		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now += rapid.Int64Range(0, 40).Draw(t, "advance")
			at := time.Unix(now, 0)
			p := rapid.SampledFrom(participants).Draw(t, "who")
			before := m.State()

			var opErr error
			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				amount := terms.CollateralAmount
				if rapid.Bool().Draw(t, "wrong stake") {
					amount++
				}
				opErr = m.Stake(ctx, p, amount, at)
			case 1, 2:
				amount := terms.ContributionPerCycle
				if rapid.IntRange(0, 9).Draw(t, "wrong contribution") == 0 {
					amount--
				}
				opErr = m.Contribute(ctx, p, amount, at)
			case 3:
				_, opErr = m.Claim(ctx, p, at)
			case 4:
				_, opErr = m.Tick(ctx, at)
			case 5:
				_, opErr = m.WithdrawCollateral(ctx, p, at)
			}

			after := m.State()
			if opErr != nil && after.Version != before.Version {
				t.Fatalf("rejected operation committed: %v", opErr)
			}
			if opErr != nil && model.CodeOf(opErr) == model.CodeUnknown {
				t.Fatalf("untyped error: %v", opErr)
			}
			checkAccounting(t, after)
		}
	})
}

func checkAccounting(t *rapid.T, s *State) {
	if s.PoolBalance < 0 {
		t.Fatalf("negative pool %d", s.PoolBalance)
	}
	if s.PoolBalance != s.TotalContributed-s.TotalPaidOut {
		t.Fatalf("pool %d != contributed %d - paid %d", s.PoolBalance, s.TotalContributed, s.TotalPaidOut)
	}
	var pending int64
	var contributions int64
	for i, addr := range s.Ledger.Addresses() {
		rec, _ := s.Ledger.Record(addr)
		if rec.CollateralPending {
			pending++
		}
		if len(rec.Contributed) > 0 && !rec.Staked {
			t.Fatalf("%s contributed without collateral", addr)
		}
		if rec.Claimed && rec.ClaimedCycle != i {
			t.Fatalf("%s claimed in cycle %d, rotation slot is %d", addr, rec.ClaimedCycle, i)
		}
		contributions += int64(len(rec.Contributed))
	}
	if s.CollateralHeld != pending*s.Terms.CollateralAmount {
		t.Fatalf("collateral held %d, %d stakes pending", s.CollateralHeld, pending)
	}
	if s.TotalContributed != contributions*s.Terms.ContributionPerCycle {
		t.Fatalf("contributed %d from %d contributions", s.TotalContributed, contributions)
	}
	if s.Status == model.StatusCompleted {
		for c := 0; c < s.Config.CirculationCycles; c++ {
			rec, _ := s.Ledger.At(c)
			if !rec.Claimed {
				t.Fatalf("completed with %s unpaid", rec.Address)
			}
		}
	}
}
