package qnetsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketTicks(t *testing.T) {
	tb, err := CreateTokenBucket(3, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), tb.Tokens())
	require.InDelta(t, 0.001, tb.Interval(), 1e-15)

	for idx := 0; idx < 3; idx++ {
		require.True(t, tb.Tick())
	}
	require.False(t, tb.Tick())
	require.Equal(t, int64(3), tb.Tokens())
	require.Equal(t, int64(3), tb.Generated())
	require.Equal(t, int64(1), tb.Overflow())
}

func TestTokenBucketTakeIsAllOrNothing(t *testing.T) {
	tb, err := CreateTokenBucket(10, 1)
	require.NoError(t, err)
	for idx := 0; idx < 4; idx++ {
		tb.Tick()
	}
	require.False(t, tb.Take(0, 5))
	require.Equal(t, int64(4), tb.Tokens())
	require.True(t, tb.Take(0, 4))
	require.Equal(t, int64(0), tb.Tokens())
	require.Equal(t, 0.0, tb.Level(0))
	require.Equal(t, int64(10), tb.Ceiling())
}

func TestBucketConstructorsRejectBadParameters(t *testing.T) {
	_, err := CreateTokenBucket(-1, 10)
	require.ErrorIs(t, err, ErrBadBucket)
	_, err = CreateTokenBucket(10, 0)
	require.ErrorIs(t, err, ErrBadBucket)
	_, err = CreateFluidBucket(-1, 10)
	require.ErrorIs(t, err, ErrBadBucket)
	_, err = CreateFluidBucket(10, -2)
	require.ErrorIs(t, err, ErrBadBucket)
}

func TestFluidBucketRefillsContinuously(t *testing.T) {
	fb, err := CreateFluidBucket(1000, 100)
	require.NoError(t, err)
	require.InDelta(t, 0.0, fb.Level(0), 1e-9)
	require.InDelta(t, 250.0, fb.Level(2.5), 1e-6)

	// capped at the ceiling
	require.InDelta(t, 1000.0, fb.Level(50), 1e-6)

	require.False(t, fb.Take(1.0, 150))
	require.True(t, fb.Take(2.0, 150))
	require.InDelta(t, 50.0, fb.Level(2.0), 1e-6)
	require.False(t, fb.Take(2.0, 1001))
}

func TestFluidBucketReadyAt(t *testing.T) {
	fb, err := CreateFluidBucket(500, 100)
	require.NoError(t, err)

	at, ok := fb.ReadyAt(1.0, 300)
	require.True(t, ok)
	require.InDelta(t, 3.0, at, 1e-6)
	require.True(t, fb.Take(at, 300))

	_, ok = fb.ReadyAt(at, 501)
	require.False(t, ok)

	// already covered: the wake-up is still strictly later
	at, ok = fb.ReadyAt(100.0, 10)
	require.True(t, ok)
	require.Greater(t, at, 100.0)
}
