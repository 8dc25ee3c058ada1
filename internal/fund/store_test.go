package fund

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitfund/internal/model"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "funds"))
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	m := NewMachine(s, store)
	stakeAll(t, m, beforeStart)
	require.NoError(t, m.Contribute(ctx, "alice", 100, cycleTime(0)))
	_, err = m.EvaluateDefaults(ctx, 0, cycleTime(1))
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	want := m.State()
	assert.Equal(t, want.Status, loaded.Status)
	assert.Equal(t, want.Terms, loaded.Terms)
	assert.Equal(t, want.Config, loaded.Config)
	assert.Equal(t, want.PoolBalance, loaded.PoolBalance)
	assert.Equal(t, want.CollateralHeld, loaded.CollateralHeld)
	assert.Equal(t, want.Version, loaded.Version)
	assert.Equal(t, want.Ledger.Defaults(), loaded.Ledger.Defaults())
	assert.True(t, loaded.Ledger.HasContributed("alice", 0))

	// A machine restored from disk carries on where the old one stopped.
	restored := NewMachine(loaded, store)
	err = restored.Contribute(ctx, "alice", 100, cycleTime(1))
	require.NoError(t, err)
	assert.ErrorIs(t, restored.Contribute(ctx, "alice", 100, cycleTime(1)), model.ErrAlreadyContributed)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	base := time.Unix(500, 0)
	for i, id := range []string{"b", "a", "c"} {
		s, err := Create(id, testConfig(), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, s))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	states, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "b", states[0].ID)
	assert.Equal(t, "a", states[1].ID)
	assert.Equal(t, "c", states[2].ID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files are cleaned up")
	}
}

func TestMemoryStore_CopiesState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))

	s.PoolBalance = 99
	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, loaded.PoolBalance)

	_, err = store.Load(ctx, "f2")
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}

func TestFileStore_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))

	err = store.Save(ctx, s)
	assert.ErrorIs(t, err, model.ErrConflict, "same version twice")

	next := s.Clone()
	next.Version = 1
	require.NoError(t, store.Save(ctx, next))

	stale := s.Clone()
	stale.Version = 1
	stale.PoolBalance = 42
	err = store.Save(ctx, stale)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, model.CodeConflict, model.CodeOf(err))

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.Version)
	assert.Zero(t, loaded.PoolBalance)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "funds"))
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	s.ID = "../escaped"
	assert.ErrorIs(t, store.Save(ctx, s), model.ErrInvalidConfig)
	_, err = os.Stat(filepath.Join(dir, "escaped.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Load(ctx, "../escaped")
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}

// loadCopies returns n machines that each loaded fund id from store on their
// own, the way a daemon and a CLI invocation would.
func loadCopies(t *testing.T, store Store, id string, n int) []*Machine {
	t.Helper()
	out := make([]*Machine, n)
	for i := range out {
		s, err := store.Load(context.Background(), id)
		require.NoError(t, err)
		out[i] = NewMachine(s, store)
	}
	return out
}

func TestFileStore_SeparateMachinesClaimOnce(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))
	base := NewMachine(s, store)
	stakeAll(t, base, beforeStart)
	contributeAll(t, base, 0)

	copies := loadCopies(t, store, "f1", 2)
	paid, err := copies[0].Claim(ctx, "alice", cycleTime(0))
	require.NoError(t, err)
	assert.Equal(t, int64(300), paid)

	paid, err = copies[1].Claim(ctx, "alice", cycleTime(0))
	assert.ErrorIs(t, err, model.ErrAlreadyClaimed)
	assert.Zero(t, paid)

	stored, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, stored.PoolBalance)
	assert.Equal(t, int64(300), stored.TotalPaidOut)
	assert.Equal(t, stored.Version, copies[1].State().Version, "the losing machine caught up")
}

func TestFileStore_ConcurrentMachinesClaimOnce(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))
	base := NewMachine(s, store)
	stakeAll(t, base, beforeStart)
	contributeAll(t, base, 0)

	copies := loadCopies(t, store, "f1", 2)
	var (
		wg   sync.WaitGroup
		paid atomic.Int64
		wins atomic.Int32
	)
	for _, m := range copies {
		wg.Add(1)
		go func(m *Machine) {
			defer wg.Done()
			amount, err := m.Claim(ctx, "alice", cycleTime(0))
			if err == nil {
				wins.Add(1)
				paid.Add(amount)
				return
			}
			assert.ErrorIs(t, err, model.ErrAlreadyClaimed)
		}(m)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(300), paid.Load())
	stored, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, stored.PoolBalance)
	assert.Equal(t, int64(300), stored.TotalPaidOut)
}

func TestFileStore_StaleTickKeepsContribution(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))
	base := NewMachine(s, store)
	stakeAll(t, base, beforeStart)
	contributeAll(t, base, 0)

	copies := loadCopies(t, store, "f1", 2)
	daemon, cli := copies[0], copies[1]
	require.NoError(t, cli.Contribute(ctx, "bob", 100, cycleTime(1)))

	rep, err := daemon.Tick(ctx, cycleTime(2))
	require.NoError(t, err)
	assert.NotContains(t, rep.Flagged, model.Default{Participant: "bob", Cycle: 1})
	assert.Contains(t, rep.Flagged, model.Default{Participant: "carol", Cycle: 1})

	stored, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, stored.Ledger.HasContributed("bob", 1))
	assert.NotContains(t, stored.Ledger.Defaults(), model.Default{Participant: "bob", Cycle: 1})
	assert.Equal(t, int64(400), stored.TotalContributed)
}

func TestMachine_RefreshAdoptsNewerVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))

	copies := loadCopies(t, store, "f1", 2)
	require.NoError(t, copies[0].Stake(ctx, "alice", 150, beforeStart))

	assert.Zero(t, copies[1].State().CollateralHeld)
	require.NoError(t, copies[1].Refresh(ctx))
	assert.Equal(t, int64(150), copies[1].State().CollateralHeld)

	// An older stored copy never replaces newer in-memory state.
	require.NoError(t, copies[0].Refresh(ctx))
	assert.Equal(t, copies[1].State().Version, copies[0].State().Version)
}

func TestMemoryStore_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := Create("f1", testConfig(), beforeStart)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))

	copies := loadCopies(t, store, "f1", 2)
	require.NoError(t, copies[0].Stake(ctx, "alice", 150, beforeStart))

	stale := copies[1].State()
	stale.Version++
	stale.PoolBalance = 7
	assert.ErrorIs(t, store.Save(ctx, stale), model.ErrConflict)

	// The machine itself reloads and retries.
	require.NoError(t, copies[1].Stake(ctx, "bob", 150, beforeStart))
	stored, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), stored.CollateralHeld)
}
