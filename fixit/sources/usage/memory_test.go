package usage_test

import (
	"context"
	"fixit/fixit/sources/usage"
	"fixit/fixit/sources/usage/storetest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(_ *testing.T, clock usage.Clock) usage.Store {
	return usage.NewMemoryStore(usage.WithMemoryClock(clock))
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, newMemory)
}

func TestMemoryStorePrune(t *testing.T) {
	storetest.RunPrune(t, newMemory)
}

func TestMemoryStoreRecordsLastMessageAt(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	s := usage.NewMemoryStore(usage.WithMemoryClock(func() time.Time { return at }))

	require.NoError(t, s.IncrementUsage(context.Background(), "u1"))
	rec, ok := s.Record("u1", "2025-06-01")
	require.True(t, ok)
	assert.Equal(t, 1, rec.MessageCount)
	assert.Equal(t, at, rec.LastMessageAt)
}

func TestDayUsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2025, 6, 2, 3, 0, 0, 0, tokyo)
	assert.Equal(t, "2025-06-01", usage.Day(local))
}

func TestNextReset(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), usage.NextReset(now))

	midnight := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.Add(24*time.Hour), usage.NextReset(midnight))
}

func TestStorageErrorMatchesSentinel(t *testing.T) {
	err := usage.Wrap("reserve", assert.AnError)
	assert.ErrorIs(t, err, usage.ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, usage.Wrap("reserve", nil))
}

func TestMemoryStoreReservationTTL(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := storetest.NewClock(start)
	s := usage.NewMemoryStore(usage.WithMemoryClock(clock.Now), usage.WithMemoryReservationTTL(10*time.Second))
	ctx := context.Background()

	_, err := s.Reserve(ctx, "u1", 1)
	require.NoError(t, err)
	rec, ok := s.Record("u1", "2025-06-01")
	require.True(t, ok)
	assert.True(t, start.Add(10*time.Second).Equal(rec.ReservedUntil))
	assert.Equal(t, 1, rec.ActiveReserved(start.Add(9*time.Second)))
	assert.Equal(t, 0, rec.ActiveReserved(start.Add(10*time.Second)))

	clock.Set(start.Add(10 * time.Second))
	_, err = s.Reserve(ctx, "u1", 1)
	assert.NoError(t, err)
}
