package quota

import (
	"context"
	"fixit/fixit/sources/usage"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	usage.MemoryStore
}

func (*failingStore) UsageToday(context.Context, string) (int, error) {
	return 0, usage.Wrap("usage today", assert.AnError)
}

func TestCanSend(t *testing.T) {
	store := usage.NewMemoryStore()
	p := NewPolicy(store, 2)
	ctx := context.Background()

	ok, err := p.CanSend(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.IncrementUsage(ctx, "u1"))
	require.NoError(t, store.IncrementUsage(ctx, "u1"))

	ok, err = p.CanSend(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// CanSend must not mutate.
	n, err := store.UsageToday(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAdmitStopsAtLimit(t *testing.T) {
	store := usage.NewMemoryStore()
	p := NewPolicy(store, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := p.Admit(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, res))
	}
	_, err := p.Admit(ctx, "u1")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestReleaseDoesNotCount(t *testing.T) {
	store := usage.NewMemoryStore()
	p := NewPolicy(store, 1)
	ctx := context.Background()

	res, err := p.Admit(ctx, "u1")
	require.NoError(t, err)
	_, err = p.Admit(ctx, "u1")
	assert.ErrorIs(t, err, ErrQuotaExceeded, "in-flight slot counts against the limit")

	require.NoError(t, p.Release(ctx, res))
	snap, err := p.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Used)

	res, err = p.Admit(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, p.Commit(ctx, res))
	snap, err = p.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Used)
	assert.Equal(t, 0, snap.Remaining)
}

func TestAdmitFailsClosedOnStorageError(t *testing.T) {
	p := NewPolicy(&failingStore{}, 3)

	_, err := p.Admit(context.Background(), "u1")
	assert.ErrorIs(t, err, usage.ErrStorage)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)

	_, err = p.Snapshot(context.Background(), "u1")
	assert.ErrorIs(t, err, usage.ErrStorage)
}

func TestSnapshot(t *testing.T) {
	now := time.Date(2025, 8, 14, 21, 5, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := usage.NewMemoryStore(usage.WithMemoryClock(clock))
	p := NewPolicy(store, 5, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, store.IncrementUsage(ctx, "u1"))
	require.NoError(t, store.IncrementUsage(ctx, "u1"))

	snap, err := p.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		Used:      2,
		Remaining: 3,
		Limit:     5,
		ResetTime: time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC),
	}, snap)

	again, err := p.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestSnapshotClampsRemaining(t *testing.T) {
	store := usage.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.IncrementUsage(ctx, "u1"))
	}

	snap, err := NewPolicy(store, 3).Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Used)
	assert.Equal(t, 0, snap.Remaining)
}
