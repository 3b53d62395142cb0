package replay

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	entry := &Entry{
		ToolID:     "analyze_market",
		Amount:     decimal.RequireFromString("0.05"),
		VerifiedAt: time.Now(),
		Verified:   true,
	}

	require.NoError(t, s.Set(ctx, "sig-1", entry))

	got, err := s.Get(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "analyze_market", got.ToolID)
	assert.True(t, got.Amount.Equal(entry.Amount))
	assert.True(t, got.Verified)

	has, err := s.Has(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Delete(ctx, "sig-1"))
	_, err = s.Get(ctx, "sig-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMissingIsNotFound(t *testing.T) {
	s := NewMemoryStore(time.Hour)

	_, err := s.Get(context.Background(), "never-written")
	assert.ErrorIs(t, err, ErrNotFound)

	has, err := s.Has(context.Background(), "never-written")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStoreTTLBoundary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(150 * time.Millisecond)

	entry := &Entry{ToolID: "get_odds", Amount: decimal.RequireFromString("0.02"), Verified: true}
	require.NoError(t, s.Set(ctx, "sig-ttl", entry))

	// Present before expiry.
	_, err := s.Get(ctx, "sig-ttl")
	require.NoError(t, err)

	// Absent after expiry, even before the janitor sweeps.
	time.Sleep(200 * time.Millisecond)
	_, err = s.Get(ctx, "sig-ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Set(ctx, "a", &Entry{ToolID: "t1"}))
	require.NoError(t, s.Set(ctx, "b", &Entry{ToolID: "t2"}))

	_, _ = s.Get(ctx, "a")       // hit
	_, _ = s.Get(ctx, "a")       // hit
	_, _ = s.Get(ctx, "missing") // miss

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
