package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowLog struct {
	hour []time.Time
	day  []time.Time
}

// MemoryLimiter keeps rolling-window logs in process. Suitable for a single
// worker or tests; use RedisLimiter when several workers share destinations.
type MemoryLimiter struct {
	mu   sync.Mutex
	logs map[string]*windowLog
	now  func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{logs: make(map[string]*windowLog), now: time.Now}
}

// WithClock replaces the clock (tests).
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limits Limits) (*Result, error) {
	if limits.Unlimited() {
		return &Result{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	log, ok := m.logs[key]
	if !ok {
		log = &windowLog{}
		m.logs[key] = log
	}
	log.hour = prune(log.hour, now.Add(-time.Hour))
	log.day = prune(log.day, now.Add(-24*time.Hour))

	res := &Result{Allowed: true}
	if limits.PerHour > 0 && len(log.hour) >= limits.PerHour {
		res.Allowed = false
		res.Window = WindowHour
		res.ResetIn = log.hour[0].Add(time.Hour).Sub(now)
	}
	if limits.PerDay > 0 && len(log.day) >= limits.PerDay {
		res.Allowed = false
		res.Window = WindowDay
		if reset := log.day[0].Add(24 * time.Hour).Sub(now); reset > res.ResetIn {
			res.ResetIn = reset
		}
	}
	if !res.Allowed {
		return res, nil
	}

	if limits.PerHour > 0 {
		log.hour = append(log.hour, now)
	}
	if limits.PerDay > 0 {
		log.day = append(log.day, now)
	}
	return res, nil
}

// prune drops entries at or before cutoff. Entries are appended in time order.
func prune(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}
