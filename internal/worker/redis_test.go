package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// flakyZRem fails every ZREM after the first ok ones.
type flakyZRem struct {
	redis.Cmdable
	ok    int
	calls atomic.Int32
}

func (f *flakyZRem) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if int(f.calls.Add(1)) > f.ok {
		return redis.NewIntResult(0, errors.New("connection reset by peer"))
	}
	return f.Cmdable.ZRem(ctx, key, members...)
}

func TestRedisSchedulerClaimsOnlyDueTasks(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	s := NewRedisScheduler(rdb, time.Second)
	s.now = func() time.Time { return t0 }

	due := Task{OrgID: "org_1", Event: docFailed("evt_due"), Attempt: 2}
	later := Task{OrgID: "org_1", Event: docFailed("evt_later"), Attempt: 3}
	require.NoError(t, s.Schedule(ctx, due, t0.Add(-time.Second)))
	require.NoError(t, s.Schedule(ctx, later, t0.Add(time.Hour)))

	tasks, err := s.claimDue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "evt_due", tasks[0].Event.ID)
	assert.Equal(t, 2, tasks[0].Attempt)

	// a second poller finds nothing left to claim
	other := NewRedisScheduler(rdb, time.Second)
	other.now = s.now
	tasks, err = other.claimDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	n, err := rdb.ZCard(ctx, retryKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisSchedulerRunsTasksClaimedBeforeAnError(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	flaky := &flakyZRem{Cmdable: rdb, ok: 1}
	s := NewRedisScheduler(flaky, time.Second)
	s.now = func() time.Time { return t0 }

	require.NoError(t, s.Schedule(ctx, Task{Event: docFailed("evt_a"), Attempt: 2}, t0.Add(-2*time.Second)))
	require.NoError(t, s.Schedule(ctx, Task{Event: docFailed("evt_b"), Attempt: 2}, t0.Add(-time.Second)))

	got := make(chan Task, 2)
	err := s.poll(ctx, func(_ context.Context, task Task) { got <- task })
	require.Error(t, err)

	select {
	case task := <-got:
		assert.Equal(t, "evt_a", task.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("claimed task was dropped")
	}

	// the task that failed to claim is still scheduled
	members, err := rdb.ZRange(ctx, retryKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], "evt_b")
}

func TestRedisSchedulerRun(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewRedisScheduler(rdb, 10*time.Millisecond)

	got := make(chan Task, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(_ context.Context, task Task) { got <- task }) }()

	require.NoError(t, s.Schedule(ctx, Task{Event: docFailed("evt_run"), Attempt: 2}, time.Now().Add(-time.Millisecond)))
	select {
	case task := <-got:
		assert.Equal(t, "evt_run", task.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("due task never ran")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestConsumerAcksPublishedEvent(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := statusServer(http.StatusOK, &hits)
	defer srv.Close()
	dest := destination(srv.URL)
	h := newHarness(dest)

	c := NewConsumer(rdb, h.d, "events-test", 1, time.Second)
	msg := enqueue(t, rdb, c, docFailed("evt_stream"))

	c.handle(ctx, msg)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, model.OutcomeDelivered, h.outcome(t, "evt_stream", dest.ID).State)
	assert.Equal(t, int64(0), pending(t, rdb, c))
}

func TestConsumerLeavesFailedPublishPending(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := statusServer(http.StatusOK, &hits)
	defer srv.Close()
	dest := destination(srv.URL)
	h := newHarness(dest)
	h.d = h.dispatcher(brokenJournal{h.journal, errors.New("connection refused")}, h.scheduler)

	c := NewConsumer(rdb, h.d, "events-test", 1, time.Second)
	msg := enqueue(t, rdb, c, docFailed("evt_stuck"))

	c.handle(ctx, msg)

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, int64(1), pending(t, rdb, c))
}

func TestConsumerAcksUndecodableMessage(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	h := newHarness()

	c := NewConsumer(rdb, h.d, "events-test", 1, time.Second)
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, c.stream, consumerGroup, "0").Err())
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: c.stream, Values: map[string]any{"event": "not json"}}).Err())
	msg := readOne(t, rdb, c)

	c.handle(ctx, msg)
	assert.Equal(t, int64(0), pending(t, rdb, c))
}

func TestConsumerStartConsumesStream(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits atomic.Int32
	srv := statusServer(http.StatusOK, &hits)
	defer srv.Close()
	dest := destination(srv.URL)
	h := newHarness(dest)

	c := NewConsumer(rdb, h.d, "events-test", 2, time.Second)
	require.NoError(t, c.Start(ctx))
	// a second worker joining the existing group is fine
	require.NoError(t, NewConsumer(rdb, h.d, "events-test", 1, time.Second).Start(ctx))

	values, err := StreamValues("org_1", docFailed("evt_live"))
	require.NoError(t, err)
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: c.stream, Values: values}).Err())

	assert.Eventually(t, func() bool {
		o, err := h.journal.Outcome(ctx, "evt_live", dest.ID)
		if err != nil || o.State != model.OutcomeDelivered {
			return false
		}
		p, err := rdb.XPending(ctx, c.stream, consumerGroup).Result()
		return err == nil && p.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func enqueue(t *testing.T, rdb *redis.Client, c *Consumer, event model.Event) redis.XMessage {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, c.stream, consumerGroup, "0").Err())
	values, err := StreamValues("org_1", event)
	require.NoError(t, err)
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: c.stream, Values: values}).Err())
	return readOne(t, rdb, c)
}

func readOne(t *testing.T, rdb *redis.Client, c *Consumer) redis.XMessage {
	t.Helper()
	streams, err := rdb.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: "test",
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	return streams[0].Messages[0]
}

func pending(t *testing.T, rdb *redis.Client, c *Consumer) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), c.stream, consumerGroup).Result()
	require.NoError(t, err)
	return p.Count
}
