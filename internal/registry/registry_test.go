package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitfund/internal/fund"
	"chitfund/internal/model"
)

func fundConfig() model.FundConfig {
	return model.FundConfig{
		Name:                 "office",
		ContributionPerCycle: 50,
		ParticipantCount:     2,
		CycleDurationSeconds: 3600,
		StartTimestamp:       10_000,
		Participants:         []string{"alice", "bob"},
		CollateralPercentage: 10,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := fund.NewMemoryStore()
	r := New(store)

	m, err := r.Create(ctx, fundConfig(), time.Unix(0, 0))
	require.NoError(t, err)
	_, err = uuid.Parse(m.ID())
	assert.NoError(t, err, "generated ids are UUIDs")

	got, err := r.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	saved, err := store.Load(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, saved.Status)
	assert.Equal(t, 1, r.Len())
}

func TestCreateWithID_Duplicate(t *testing.T) {
	ctx := context.Background()
	r := New(fund.NewMemoryStore())

	_, err := r.CreateWithID(ctx, "office", fundConfig(), time.Unix(0, 0))
	require.NoError(t, err)
	_, err = r.CreateWithID(ctx, "office", fundConfig(), time.Unix(0, 0))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Equal(t, 1, r.Len())
}

func TestCreate_InvalidConfigRegistersNothing(t *testing.T) {
	ctx := context.Background()
	store := fund.NewMemoryStore()
	r := New(store)

	cfg := fundConfig()
	cfg.ParticipantCount = 3
	_, err := r.CreateWithID(ctx, "bad", cfg, time.Unix(0, 0))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Zero(t, r.Len())
	_, err = store.Load(ctx, "bad")
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}

func TestGet_Missing(t *testing.T) {
	r := New(fund.NewMemoryStore())
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := fund.NewMemoryStore()
	first := New(store)
	for _, id := range []string{"b", "a"} {
		m, err := first.CreateWithID(ctx, id, fundConfig(), time.Unix(0, 0))
		require.NoError(t, err)
		require.NoError(t, m.Stake(ctx, "alice", 10, time.Unix(0, 0)))
	}

	second := New(store)
	n, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := second.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
	assert.Equal(t, "b", list[1].ID())

	m, err := second.Get("a")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Stake(ctx, "alice", 10, time.Unix(0, 0)), model.ErrAlreadyStaked)
}

// Funds are independent: operations on one never touch another.
func TestFundsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := New(fund.NewMemoryStore())
	a, err := r.CreateWithID(ctx, "a", fundConfig(), time.Unix(0, 0))
	require.NoError(t, err)
	b, err := r.CreateWithID(ctx, "b", fundConfig(), time.Unix(0, 0))
	require.NoError(t, err)

	require.NoError(t, a.Stake(ctx, "alice", 10, time.Unix(0, 0)))
	assert.Equal(t, int64(10), a.State().CollateralHeld)
	assert.Zero(t, b.State().CollateralHeld)
}
