package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	krl := New(0.001, 2, time.Minute)
	defer krl.Stop()

	assert.True(t, krl.Allow("1"))
	assert.True(t, krl.Allow("1"))
	assert.False(t, krl.Allow("1"), "burst exhausted")

	assert.True(t, krl.Allow("2"), "keys are independent")
	assert.Equal(t, 2, krl.Len())
}

func TestKeyedRateLimiter_Reserve(t *testing.T) {
	krl := New(1, 1, time.Minute)
	defer krl.Stop()

	ok, wait := krl.Reserve("1")
	assert.True(t, ok)
	assert.Zero(t, wait)

	ok, wait = krl.Reserve("1")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)

	// A refused reservation does not consume the next token.
	ok, wait2 := krl.Reserve("1")
	assert.False(t, ok)
	assert.InDelta(t, float64(wait), float64(wait2), float64(50*time.Millisecond))
}

func TestKeyedRateLimiter_Wait(t *testing.T) {
	krl := New(0.001, 1, time.Minute)
	defer krl.Stop()

	require.NoError(t, krl.Wait(context.Background(), "1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, krl.Wait(ctx, "1"))
}

func TestKeyedRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	krl := New(1, 1, time.Minute)
	defer krl.Stop()

	now := time.Now()
	krl.now = func() time.Time { return now }
	krl.Allow("old")

	now = now.Add(2 * time.Minute)
	krl.Allow("fresh")
	krl.cleanup()

	assert.Equal(t, 1, krl.Len())
}

func TestKeyedRateLimiter_StopTwice(t *testing.T) {
	krl := New(1, 1, 0)
	krl.Stop()
	krl.Stop()
}
