package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

// Task is one pending delivery of an event to a destination.
type Task struct {
	OrgID         string      `json:"org_id"`
	Event         model.Event `json:"event"`
	DestinationID uuid.UUID   `json:"destination_id"`
	Attempt       int         `json:"attempt"`
}

type TaskFunc func(ctx context.Context, task Task)

// Scheduler requeues tasks for execution at a later time. No goroutine is
// held for the duration of the wait.
type Scheduler interface {
	Schedule(ctx context.Context, task Task, at time.Time) error
	// Run hands due tasks to fn until ctx is done.
	Run(ctx context.Context, fn TaskFunc) error
}

// Backoff is exponential without jitter: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the attempt following attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max || delay <= 0 {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// MemoryScheduler keeps pending tasks in process timers. Tasks do not survive
// a restart; use RedisScheduler when that matters.
type MemoryScheduler struct {
	now func() time.Time
	due chan Task

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed chan struct{}
	once   sync.Once
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{
		now:    time.Now,
		due:    make(chan Task),
		timers: make(map[*time.Timer]struct{}),
		closed: make(chan struct{}),
	}
}

func (s *MemoryScheduler) Schedule(_ context.Context, task Task, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(at.Sub(s.now()), func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		select {
		case s.due <- task:
		case <-s.closed:
		}
	})
	s.timers[t] = struct{}{}
	return nil
}

func (s *MemoryScheduler) Run(ctx context.Context, fn TaskFunc) error {
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-s.due:
			go fn(ctx, task)
		}
	}
}

// Pending reports how many tasks are waiting for their due time.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *MemoryScheduler) stop() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		defer s.mu.Unlock()
		for t := range s.timers {
			t.Stop()
		}
	})
}
