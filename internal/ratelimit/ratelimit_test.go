package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRefills(t *testing.T) {
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := NewWithBurst(2, 2)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "bucket should be empty")

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// refill never exceeds burst
	clock = clock.Add(time.Hour)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		rps   float64
		burst int
	}{
		{0, 1},
		{-3, 1},
		{0.5, 1},
		{5, 5},
	}

	for _, tt := range tests {
		l := New(tt.rps)
		assert.Equal(t, tt.burst, l.lim.Burst())
		assert.Greater(t, float64(l.lim.Limit()), 0.0)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := NewWithBurst(0.01, 1)
	assert.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestCancelledWaitReturnsToken(t *testing.T) {
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := NewWithBurst(1, 1)
	l.now = func() time.Time { return clock }

	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow(), "the abandoned reservation must not consume the refill")
}
