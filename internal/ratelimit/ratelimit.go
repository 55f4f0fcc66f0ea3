package ratelimit

import (
	"context"
	"time"
)

const (
	WindowHour = "hour"
	WindowDay  = "day"
)

// Limits are the per-destination quotas. Zero disables a window.
type Limits struct {
	PerHour int
	PerDay  int
}

func (l Limits) Unlimited() bool {
	return l.PerHour <= 0 && l.PerDay <= 0
}

// Result describes a single check-and-consume call.
type Result struct {
	Allowed bool
	// Window names the exhausted window when Allowed is false.
	Window string
	// ResetIn is how long until the exhausted window admits another attempt.
	ResetIn time.Duration
}

// Limiter atomically checks both windows for key and, when both have room,
// records one delivery against each.
type Limiter interface {
	Allow(ctx context.Context, key string, limits Limits) (*Result, error)
}
