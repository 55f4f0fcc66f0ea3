package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterHourly(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()
	limits := Limits{PerHour: 5}

	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "dest-1", limits)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
		clock.Advance(time.Minute)
	}

	res, err := l.Allow(ctx, "dest-1", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, WindowHour, res.Window)
	assert.Equal(t, 55*time.Minute, res.ResetIn)

	// other destinations are unaffected
	res, err = l.Allow(ctx, "dest-2", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	clock.Advance(55 * time.Minute)
	res, err = l.Allow(ctx, "dest-1", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterDailyOutlastsHourly(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()
	limits := Limits{PerHour: 2, PerDay: 3}

	for i := 0; i < 2; i++ {
		res, _ := l.Allow(ctx, "d", limits)
		require.True(t, res.Allowed)
	}
	clock.Advance(2 * time.Hour)
	res, _ := l.Allow(ctx, "d", limits)
	require.True(t, res.Allowed)

	clock.Advance(2 * time.Hour)
	res, err := l.Allow(ctx, "d", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, WindowDay, res.Window)
	assert.Equal(t, 20*time.Hour, res.ResetIn)
}

func TestMemoryLimiterUnlimited(t *testing.T) {
	l := NewMemoryLimiter()
	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "d", Limits{})
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	l := NewMemoryLimiter()
	limits := Limits{PerHour: 10}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "shared", limits)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
