package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitfund/internal/model"
)

func TestObserveOperation(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveOperation("f1", "claim", nil)
	c.ObserveOperation("f1", "claim", model.ErrNotRecipient.WithMetadata("participant", "bob"))
	c.ObserveOperation("f1", "claim", model.ErrNotRecipient)
	c.ObserveOperation("f1", "contribute", errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("claim", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("claim", string(model.CodeNotRecipient))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("contribute", "error")))
}

func TestRecordEvent(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	events := []model.Event{
		{FundID: "f1", Type: model.EventStake, Cycle: -1, Amount: 150, CollateralHeld: 150},
		{FundID: "f1", Type: model.EventStake, Cycle: -1, Amount: 150, CollateralHeld: 300},
		{FundID: "f1", Type: model.EventContribute, Cycle: 0, Amount: 100, PoolAfter: 100, CollateralHeld: 300},
		{FundID: "f1", Type: model.EventContribute, Cycle: 0, Amount: 100, PoolAfter: 200, CollateralHeld: 300},
		{FundID: "f1", Type: model.EventClaim, Cycle: 0, Amount: 200, PoolAfter: 0, CollateralHeld: 300},
		{FundID: "f1", Type: model.EventDefault, Cycle: 1, CollateralHeld: 300},
		{FundID: "f1", Type: model.EventWithdraw, Cycle: -1, Amount: 150, CollateralHeld: 150},
	}
	for i := range events {
		require.NoError(t, c.RecordEvent(&events[i]))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues(string(model.EventContribute))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.pool.WithLabelValues("f1")))
	assert.Equal(t, 200.0, testutil.ToFloat64(c.paidOut.WithLabelValues("f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.defaults.WithLabelValues("f1")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.collateral.WithLabelValues("f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lastCycle.WithLabelValues("f1")))
}

// After a restart the gauges start from the stored balances, so a withdrawal
// lands on the fund's real collateral instead of going below zero.
func TestSetBalances_ThenWithdraw(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.SetBalances("f1", 200, 450)
	assert.Equal(t, 200.0, testutil.ToFloat64(c.pool.WithLabelValues("f1")))
	assert.Equal(t, 450.0, testutil.ToFloat64(c.collateral.WithLabelValues("f1")))

	evt := model.Event{FundID: "f1", Type: model.EventWithdraw, Cycle: -1, Amount: 150, PoolAfter: 200, CollateralHeld: 300}
	require.NoError(t, c.RecordEvent(&evt))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.collateral.WithLabelValues("f1")))

	fresh := NewCollector(prometheus.NewRegistry())
	require.NoError(t, fresh.RecordEvent(&evt))
	assert.Equal(t, 300.0, testutil.ToFloat64(fresh.collateral.WithLabelValues("f1")))
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
