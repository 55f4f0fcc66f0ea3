package worker

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Minute, b.Delay(7))
	assert.Equal(t, 5*time.Minute, b.Delay(80))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestMemorySchedulerRunsDueTasks(t *testing.T) {
	s := NewMemoryScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Task, 2)
	go func() { _ = s.Run(ctx, func(_ context.Context, t Task) { got <- t }) }()

	now := time.Now()
	require.NoError(t, s.Schedule(ctx, Task{Attempt: 3}, now.Add(40*time.Millisecond)))
	require.NoError(t, s.Schedule(ctx, Task{Attempt: 2}, now.Add(10*time.Millisecond)))

	first := <-got
	second := <-got
	assert.Equal(t, 2, first.Attempt)
	assert.Equal(t, 3, second.Attempt)
	assert.Equal(t, 0, s.Pending())
}

func TestMemorySchedulerStopsPendingOnShutdown(t *testing.T) {
	s := NewMemoryScheduler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, func(context.Context, Task) { t.Error("task should not run") })
		close(done)
	}()

	require.NoError(t, s.Schedule(ctx, Task{Attempt: 2}, time.Now().Add(time.Hour)))
	assert.Equal(t, 1, s.Pending())
	cancel()
	<-done
}

func TestStreamMessageRoundTrip(t *testing.T) {
	event := model.Event{
		ID:        "evt_9",
		Type:      "system.health.alert",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Data:      map[string]any{"component": "api"},
	}
	values, err := StreamValues("org_1", event)
	require.NoError(t, err)

	orgID, got, err := decodeMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, "org_1", orgID)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Type, got.Type)
	assert.True(t, event.Timestamp.Equal(got.Timestamp))

	_, _, err = decodeMessage(redis.XMessage{ID: "2-0", Values: map[string]any{"event": "{}", "org_id": "org_1"}})
	assert.Error(t, err)
	_, _, err = decodeMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"event": "{}"}})
	assert.Error(t, err)
}
