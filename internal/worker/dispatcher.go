package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/ratelimit"
)

// timeoutGrace is added to a destination's own timeout for the outer bound.
// Adapters honour the context deadline themselves; the outer bound catches
// ones that do not.
const timeoutGrace = time.Second

// claimSlack covers the rate limit check and persistence around a delivery.
// A DELIVERING claim older than timeout+grace+slack belongs to a dead worker.
const claimSlack = 5 * time.Second

// maxClaimAge is the stale bound for the longest allowed destination timeout.
const maxClaimAge = model.MaxTimeout + timeoutGrace + claimSlack

// Registry is the read side of the destination registry.
type Registry interface {
	ListActive(ctx context.Context, orgID string) ([]model.Destination, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Destination, error)
	MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Journal persists attempts and the current outcome per (event, destination).
type Journal interface {
	RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error
	SaveOutcome(ctx context.Context, o *model.Outcome) error
	// ClaimOutcome atomically moves the pair to DELIVERING for attempt
	// o.Attempts+1. It returns model.ErrDuplicateAttempt when that attempt
	// already ran or another worker claimed it after staleBefore.
	ClaimOutcome(ctx context.Context, o *model.Outcome, staleBefore time.Time) error
	// Outcome returns model.ErrNotFound when the pair has not been seen.
	Outcome(ctx context.Context, eventID string, destinationID uuid.UUID) (*model.Outcome, error)
}

type Options struct {
	Registry  Registry
	Journal   Journal
	Limiter   ratelimit.Limiter
	Factory   *integration.Factory
	Scheduler Scheduler
	Backoff   Backoff
	Clock     func() time.Time
}

// Dispatcher fans events out to subscribed destinations and drives each
// delivery through rate limiting, transformation, signing, delivery and the
// retry decision.
type Dispatcher struct {
	registry  Registry
	journal   Journal
	limiter   ratelimit.Limiter
	factory   *integration.Factory
	scheduler Scheduler
	backoff   Backoff
	now       func() time.Time
	persist   retry.Config
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:  opts.Registry,
		journal:   opts.Journal,
		limiter:   opts.Limiter,
		factory:   opts.Factory,
		scheduler: opts.Scheduler,
		backoff:   opts.Backoff,
		now:       opts.Clock,
		persist: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.limiter == nil {
		d.limiter = ratelimit.NewMemoryLimiter()
	}
	if d.factory == nil {
		d.factory = integration.NewFactory(integration.Deps{})
	}
	if d.scheduler == nil {
		d.scheduler = NewMemoryScheduler()
	}
	if d.backoff.Base <= 0 {
		d.backoff.Base = 5 * time.Second
	}
	if d.backoff.Max < d.backoff.Base {
		d.backoff.Max = 5 * time.Minute
	}
	return d
}

// Run executes scheduled retries until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.scheduler.Run(ctx, func(ctx context.Context, t Task) {
		if _, err := d.Execute(ctx, t); err != nil {
			slog.Error("retry failed", "error", err, "event_id", t.Event.ID, "destination_id", t.DestinationID, "attempt", t.Attempt)
			d.reschedule(ctx, t)
		}
	})
}

// reschedule puts back a task whose attempt could not be run or recorded.
// It waits out any claim the failed run left behind so the re-run is not
// mistaken for a duplicate.
func (d *Dispatcher) reschedule(ctx context.Context, t Task) {
	at := d.now().Add(max(d.backoff.Delay(t.Attempt), maxClaimAge))
	if err := d.scheduler.Schedule(ctx, t, at); err != nil {
		slog.Error("failed to reschedule retry", "error", err, "event_id", t.Event.ID, "destination_id", t.DestinationID, "attempt", t.Attempt)
	}
}

// Publish delivers event to every active destination of orgID subscribed to
// its type. Each destination is handled concurrently and independently; the
// returned outcomes reflect the first attempt only. A non-nil error means at
// least one first attempt was not durably recorded and the event must be
// published again.
func (d *Dispatcher) Publish(ctx context.Context, orgID string, event model.Event) ([]model.Outcome, error) {
	dests, err := d.registry.ListActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}

	var targets []uuid.UUID
	for i := range dests {
		if dests[i].IsActive && dests[i].Subscribes(event.Type) {
			targets = append(targets, dests[i].ID)
		}
	}

	outcomes := make([]model.Outcome, len(targets))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, id := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Execute(ctx, Task{OrgID: orgID, Event: event, DestinationID: id, Attempt: 1})
			if err != nil {
				slog.Error("delivery failed", "error", err, "event_id", event.ID, "destination_id", id)
				mu.Lock()
				errs = append(errs, fmt.Errorf("destination %s: %w", id, err))
				mu.Unlock()
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	slog.Info("event published", "event_id", event.ID, "type", event.Type, "org_id", orgID, "destinations", len(targets), "failed", len(errs))
	return outcomes, errors.Join(errs...)
}

// Execute performs one attempt. The destination is re-read first so that
// deactivation and config changes apply to pending retries.
func (d *Dispatcher) Execute(ctx context.Context, task Task) (model.Outcome, error) {
	out := model.Outcome{
		EventID:       task.Event.ID,
		DestinationID: task.DestinationID,
		State:         model.OutcomePending,
		Attempts:      task.Attempt - 1,
	}
	if task.Attempt > 1 {
		out.State = model.OutcomeRetryScheduled
	}

	prev, err := d.journal.Outcome(ctx, task.Event.ID, task.DestinationID)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return out, fmt.Errorf("load outcome: %w", err)
	case prev.State.Terminal() || prev.Attempts >= task.Attempt:
		d.skip(task, prev.State)
		return *prev, nil
	}

	dest, err := d.registry.Get(ctx, task.DestinationID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return out, fmt.Errorf("get destination: %w", err)
	}

	maxAttempts := task.Attempt
	if dest != nil {
		maxAttempts = dest.MaxAttempts()
	}
	fsm, err := newOutcomeMachine(out.State, task.Attempt, maxAttempts)
	if err != nil {
		return out, err
	}

	if dest == nil || !dest.IsActive {
		return d.transition(ctx, fsm, out, evCancel, nil)
	}

	if _, err := fsm.Fire(evAttempt); err != nil {
		return out, err
	}
	out.State = fsm.Current()
	staleBefore := d.now().Add(-(dest.Timeout() + timeoutGrace + claimSlack))
	if err := d.claim(ctx, &out, staleBefore); err != nil {
		if errors.Is(err, model.ErrDuplicateAttempt) {
			return d.current(ctx, task, out)
		}
		return out, err
	}

	attempt, result, retryAt := d.attempt(ctx, dest, task)
	out.Attempts = task.Attempt
	if err := d.recordAttempt(ctx, attempt); err != nil {
		if !errors.Is(err, model.ErrDuplicateAttempt) {
			return out, err
		}
		// A worker whose claim went stale recorded it first. This worker
		// holds the claim now, so it carries the outcome forward.
		slog.Warn("attempt already recorded", "event_id", task.Event.ID, "destination_id", task.DestinationID, "attempt", task.Attempt)
	}

	if result.Success {
		if err := d.registry.MarkTriggered(ctx, dest.ID, attempt.AttemptedAt); err != nil {
			slog.Warn("failed to update last triggered", "error", err, "destination_id", dest.ID)
		}
	}

	event := decide(result, task.Attempt, maxAttempts)
	if event == evRetry {
		at := retryAt
		if at.IsZero() {
			at = d.now().Add(d.backoff.Delay(task.Attempt))
		}
		next := task
		next.Attempt++
		if err := d.scheduler.Schedule(ctx, next, at); err != nil {
			return out, fmt.Errorf("schedule retry: %w", err)
		}
		out.NextAttemptAt = &at
	}
	return d.transition(ctx, fsm, out, event, &result)
}

func (d *Dispatcher) skip(task Task, state model.OutcomeState) {
	slog.Debug("skipping duplicate delivery", "event_id", task.Event.ID, "destination_id", task.DestinationID, "attempt", task.Attempt, "state", state)
}

// current returns the stored outcome after losing a claim to another worker.
func (d *Dispatcher) current(ctx context.Context, task Task, fallback model.Outcome) (model.Outcome, error) {
	prev, err := d.journal.Outcome(ctx, task.Event.ID, task.DestinationID)
	if err != nil {
		return fallback, fmt.Errorf("load outcome: %w", err)
	}
	d.skip(task, prev.State)
	return *prev, nil
}

// decide picks the outcome event for a finished attempt.
func decide(result model.DeliveryResult, attempt, maxAttempts int) string {
	switch {
	case result.Success:
		return evSucceed
	case result.Failure.Retryable() || result.Failure == model.FailureRateLimited:
		if attempt < maxAttempts {
			return evRetry
		}
		return evExhaust
	default:
		return evReject
	}
}

func (d *Dispatcher) transition(ctx context.Context, fsm *outcomeMachine, out model.Outcome, event string, result *model.DeliveryResult) (model.Outcome, error) {
	state, err := fsm.Fire(event)
	if err != nil {
		return out, err
	}
	out.State = state
	if result != nil && !result.Success {
		out.LastFailure = result.Failure
		msg := result.Error
		out.LastError = &msg
	}
	if err := d.saveOutcome(ctx, &out); err != nil {
		return out, err
	}

	log := slog.Info
	if state == model.OutcomeExhausted || state == model.OutcomeFailed {
		log = slog.Warn
	}
	log("delivery outcome",
		"event_id", out.EventID,
		"destination_id", out.DestinationID,
		"attempt", out.Attempts,
		"outcome", state,
		"failure", out.LastFailure,
	)
	return out, nil
}

// attempt runs the rate limit gate and the adapter pipeline. It never
// returns an error: every failure becomes part of the attempt record. A
// non-zero retryAt overrides the backoff schedule.
func (d *Dispatcher) attempt(ctx context.Context, dest *model.Destination, task Task) (*model.DeliveryAttempt, model.DeliveryResult, time.Time) {
	record := &model.DeliveryAttempt{
		ID:            uuid.New(),
		EventID:       task.Event.ID,
		EventType:     task.Event.Type,
		DestinationID: dest.ID,
		Attempt:       task.Attempt,
		AttemptedAt:   d.now().UTC(),
	}
	finish := func(r model.DeliveryResult) (*model.DeliveryAttempt, model.DeliveryResult, time.Time) {
		fill(record, r)
		return record, r, time.Time{}
	}

	limits := ratelimit.Limits{PerHour: dest.RateLimitPerHour, PerDay: dest.RateLimitPerDay}
	if !limits.Unlimited() {
		rl, err := d.limiter.Allow(ctx, dest.ID.String(), limits)
		switch {
		case err != nil:
			slog.Warn("rate limiter unavailable, allowing delivery", "error", err, "destination_id", dest.ID)
		case !rl.Allowed:
			r := model.DeliveryResult{
				Failure: model.FailureRateLimited,
				Error:   fmt.Sprintf("%v: %s window resets in %s", model.ErrRateLimitExceeded, rl.Window, rl.ResetIn.Round(time.Second)),
			}
			fill(record, r)
			return record, r, d.now().Add(rl.ResetIn)
		}
	}

	if err := dest.Validate(); err != nil {
		return finish(configResult(err.Error()))
	}
	adapter, err := d.factory.Create(dest)
	if err != nil {
		return finish(configResult(err.Error()))
	}
	if v := adapter.ValidateConfig(); !v.Valid {
		return finish(configResult(v.Error))
	}

	meta := integration.Meta{DeliveryID: integration.DeliveryID(task.Event.ID, dest.ID), Attempt: task.Attempt}
	req, err := integration.Prepare(adapter, d.factory.Signer(), dest, task.Event, meta)
	if err != nil {
		return finish(configResult(err.Error()))
	}
	record.RequestPayload = req.Body

	return finish(d.deliver(ctx, adapter, dest, req))
}

func (d *Dispatcher) deliver(ctx context.Context, adapter integration.Adapter, dest *model.Destination, req *integration.Request) model.DeliveryResult {
	bound := dest.Timeout() + timeoutGrace
	t := timeout.New[model.DeliveryResult](timeout.Config{DefaultTimeout: bound})

	start := time.Now()
	res, err := t.Execute(ctx, bound, func(ctx context.Context) (model.DeliveryResult, error) {
		return adapter.Deliver(ctx, req), nil
	})
	if err != nil {
		return model.DeliveryResult{
			Failure:        model.FailureTimeout,
			Error:          fmt.Sprintf("delivery exceeded %s: %v", dest.Timeout(), err),
			DeliveryTimeMs: time.Since(start).Milliseconds(),
		}
	}
	return res
}

func configResult(msg string) model.DeliveryResult {
	return model.DeliveryResult{Failure: model.FailureConfigInvalid, Error: msg}
}

func fill(a *model.DeliveryAttempt, r model.DeliveryResult) {
	a.Success = r.Success
	a.Failure = r.Failure
	a.StatusCode = r.StatusCode
	a.DeliveryTimeMs = r.DeliveryTimeMs
	if r.ResponseBody != "" {
		body := r.ResponseBody
		a.ResponseBody = &body
	}
	if r.Error != "" {
		msg := r.Error
		a.Error = &msg
	}
}

// withRetry runs op under the persistence retry policy. A duplicate is
// final and is returned as is rather than retried.
func (d *Dispatcher) withRetry(ctx context.Context, op func(context.Context) error) error {
	var dup error
	_, err := retry.New[struct{}](d.persist).Do(ctx, func(ctx context.Context) (struct{}, error) {
		err := op(ctx)
		if errors.Is(err, model.ErrDuplicateAttempt) {
			dup = err
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if dup != nil {
		return dup
	}
	return err
}

func (d *Dispatcher) claim(ctx context.Context, o *model.Outcome, staleBefore time.Time) error {
	o.UpdatedAt = d.now().UTC()
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.journal.ClaimOutcome(ctx, o, staleBefore.UTC())
	})
	if err != nil {
		return fmt.Errorf("claim outcome: %w", err)
	}
	return nil
}

func (d *Dispatcher) recordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.journal.RecordAttempt(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (d *Dispatcher) saveOutcome(ctx context.Context, o *model.Outcome) error {
	o.UpdatedAt = d.now().UTC()
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.journal.SaveOutcome(ctx, o)
	})
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}
