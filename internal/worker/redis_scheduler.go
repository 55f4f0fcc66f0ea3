package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	retryKey       = "dispatch:retries"
	claimBatchSize = 100
)

// RedisScheduler persists pending retries in a sorted set scored by due time
// so they survive worker restarts. Any number of workers may poll the same
// set; ZREM decides which one claims a task.
type RedisScheduler struct {
	rdb          redis.Cmdable
	key          string
	pollInterval time.Duration
	now          func() time.Time
}

func NewRedisScheduler(rdb redis.Cmdable, pollInterval time.Duration) *RedisScheduler {
	return &RedisScheduler{
		rdb:          rdb,
		key:          retryKey,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (s *RedisScheduler) Schedule(ctx context.Context, task Task, at time.Time) error {
	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode retry task: %w", err)
	}
	err = s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(at.UnixMilli()), Member: string(member)}).Err()
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (s *RedisScheduler) Run(ctx context.Context, fn TaskFunc) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.poll(ctx, fn); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("poll retries error", "error", err)
			}
		}
	}
}

// poll dispatches every task claimed this round. Tasks already removed from
// the set run even when the batch stops early on an error; nothing else
// would run them.
func (s *RedisScheduler) poll(ctx context.Context, fn TaskFunc) error {
	tasks, err := s.claimDue(ctx)
	for _, t := range tasks {
		go fn(ctx, t)
	}
	return err
}

// claimDue removes and returns every task whose due time has passed. On error
// it still returns the tasks it removed before failing.
func (s *RedisScheduler) claimDue(ctx context.Context) ([]Task, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: claimBatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}

	var tasks []Task
	for _, m := range members {
		removed, err := s.rdb.ZRem(ctx, s.key, m).Result()
		if err != nil {
			return tasks, fmt.Errorf("claim retry: %w", err)
		}
		if removed == 0 {
			// another worker got it first
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			slog.Error("dropping malformed retry task", "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
