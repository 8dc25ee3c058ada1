package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitfund/internal/model"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_Events(t *testing.T) {
	r := openTestRecorder(t)
	at := time.Unix(1_700_000_000, 0).UTC()

	events := []model.Event{
		{FundID: "f1", Type: model.EventStake, Participant: "alice", Cycle: -1, Amount: 150, CollateralHeld: 150, At: at},
		{FundID: "f1", Type: model.EventContribute, Participant: "alice", Cycle: 0, Amount: 100, PoolBefore: 0, PoolAfter: 100, CollateralHeld: 150, At: at},
		{FundID: "f2", Type: model.EventContribute, Participant: "bob", Cycle: 0, Amount: 70, PoolAfter: 70, At: at},
		{FundID: "f1", Type: model.EventDefault, Participant: "bob", Cycle: 0, PoolBefore: 100, PoolAfter: 100, At: at, Note: "missed contribution deadline"},
	}
	for i := range events {
		require.NoError(t, r.RecordEvent(&events[i]))
	}

	got, err := r.Events("f1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events[0], got[0])
	assert.Equal(t, events[1], got[1])
	assert.Equal(t, events[3], got[2])

	none, err := r.Events("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteRecorder_Totals(t *testing.T) {
	r := openTestRecorder(t)
	record := func(typ model.EventType, amount int64) {
		require.NoError(t, r.RecordEvent(&model.Event{FundID: "f1", Type: typ, Cycle: 0, Amount: amount}))
	}
	record(model.EventStake, 150)
	record(model.EventStake, 150)
	record(model.EventContribute, 100)
	record(model.EventContribute, 100)
	record(model.EventClaim, 200)
	record(model.EventContribute, 100)
	record(model.EventWithdraw, 150)

	totals, err := r.Totals("f1")
	require.NoError(t, err)
	assert.Equal(t, Totals{Contributed: 300, PaidOut: 200, Staked: 300, Withdrawn: 150}, totals)
	assert.Equal(t, int64(100), totals.Pool())

	empty, err := r.Totals("other")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, empty)
}

func TestSQLiteRecorder_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	r, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	require.NoError(t, r.RecordEvent(&model.Event{FundID: "f1", Type: model.EventActivate, Cycle: -1}))
	require.NoError(t, r.Close())

	r, err = NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Events("f1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventActivate, got[0].Type)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	require.NoError(t, r.RecordEvent(&model.Event{FundID: "f1"}))
	events, err := r.Events("f1")
	require.NoError(t, err)
	assert.Empty(t, events)
	totals, err := r.Totals("f1")
	require.NoError(t, err)
	assert.Zero(t, totals.Pool())
	assert.NoError(t, r.Close())
}
