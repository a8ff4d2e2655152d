// Package storetest holds the behaviour every usage.Store must share. Each
// backend's tests call Run with a constructor.
package storetest

import (
	"context"
	"fixit/fixit/sources/usage"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Factory builds a fresh, empty store reading time from clock.
type Factory func(t *testing.T, clock usage.Clock) usage.Store

// Run exercises the shared Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("UnknownUserIsZero", func(t *testing.T) {
		s := newStore(t, time.Now)
		n, err := s.UsageToday(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("IncrementUpserts", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.IncrementUsage(ctx, "u1"))
		}
		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		other, err := s.UsageToday(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 0, other)
	})

	t.Run("ReserveCommit", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()

		res, err := s.Reserve(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Equal(t, "u1", res.UserID)

		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n, "reservation must not count until committed")

		require.NoError(t, s.Commit(ctx, res))
		n, err = s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ReserveCountsInFlight", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()

		_, err := s.Reserve(ctx, "u1", 2)
		require.NoError(t, err)
		_, err = s.Reserve(ctx, "u1", 2)
		require.NoError(t, err)
		_, err = s.Reserve(ctx, "u1", 2)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
	})

	t.Run("RollbackFreesSlot", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()

		res, err := s.Reserve(ctx, "u1", 1)
		require.NoError(t, err)
		require.NoError(t, s.Rollback(ctx, res))

		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		res, err = s.Reserve(ctx, "u1", 1)
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx, res))

		_, err = s.Reserve(ctx, "u1", 1)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
	})

	t.Run("AbandonedReservationExpires", func(t *testing.T) {
		start := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
		clock := NewClock(start)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		// Never committed nor rolled back, as after a crash mid-request.
		_, err := s.Reserve(ctx, "u1", 1)
		require.NoError(t, err)

		clock.Set(start.Add(usage.DefaultReservationTTL - time.Second))
		_, err = s.Reserve(ctx, "u1", 1)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded, "slot still in flight")

		clock.Set(start.Add(usage.DefaultReservationTTL))
		res, err := s.Reserve(ctx, "u1", 1)
		require.NoError(t, err, "expired slot must stop counting")

		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, s.Commit(ctx, res))
		n, err = s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Reserve(ctx, "u1", 1)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
	})

	t.Run("ReserveKeepsLiveSlots", func(t *testing.T) {
		start := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
		clock := NewClock(start)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		_, err := s.Reserve(ctx, "u1", 2)
		require.NoError(t, err)
		clock.Set(start.Add(usage.DefaultReservationTTL / 2))
		_, err = s.Reserve(ctx, "u1", 2)
		require.NoError(t, err)
		_, err = s.Reserve(ctx, "u1", 2)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded, "both slots are live")
	})

	t.Run("ZeroLimitRejects", func(t *testing.T) {
		s := newStore(t, time.Now)
		_, err := s.Reserve(context.Background(), "u1", 0)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
	})

	t.Run("DayBoundary", func(t *testing.T) {
		lastSecond := time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC)
		clock := NewClock(lastSecond)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		require.NoError(t, s.IncrementUsage(ctx, "u1"))
		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		clock.Set(lastSecond.Add(time.Second))
		n, err = s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n, "yesterday's record must not count today")

		_, err = s.Reserve(ctx, "u1", 1)
		assert.NoError(t, err)
	})

	t.Run("CommitUsesReservationDay", func(t *testing.T) {
		lastSecond := time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC)
		clock := NewClock(lastSecond)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		res, err := s.Reserve(ctx, "u1", 5)
		require.NoError(t, err)
		clock.Set(lastSecond.Add(2 * time.Second))
		require.NoError(t, s.Commit(ctx, res))

		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("ConcurrentReservesNoOverAdmission", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()
		const limit = 10

		for i := 0; i < 7; i++ {
			require.NoError(t, s.IncrementUsage(ctx, "u1"))
		}

		var wg sync.WaitGroup
		var admitted atomic.Int64
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Reserve(ctx, "u1", limit)
				if err != nil {
					return
				}
				admitted.Add(1)
				if err := s.Commit(ctx, res); err != nil {
					t.Errorf("commit: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(3), admitted.Load())
		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, limit, n)
	})

	t.Run("ConcurrentIncrementsNoLostUpdates", func(t *testing.T) {
		s := newStore(t, time.Now)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.IncrementUsage(ctx, "u1"); err != nil {
					t.Errorf("increment: %v", err)
				}
			}()
		}
		wg.Wait()

		n, err := s.UsageToday(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 25, n)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t, time.Now)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

// RunPrune checks Pruner implementations.
func RunPrune(t *testing.T, newStore Factory) {
	day1 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClock(day1)
	s := newStore(t, clock.Now)
	p, ok := s.(usage.Pruner)
	require.True(t, ok, "store does not implement usage.Pruner")
	ctx := context.Background()

	require.NoError(t, s.IncrementUsage(ctx, "u1"))
	clock.Set(day1.AddDate(0, 0, 1))
	require.NoError(t, s.IncrementUsage(ctx, "u1"))
	clock.Set(day1.AddDate(0, 0, 2))
	require.NoError(t, s.IncrementUsage(ctx, "u1"))

	n, err := p.Prune(ctx, day1.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	used, err := s.UsageToday(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}
