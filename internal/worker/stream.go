package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

const (
	DefaultStream = "events"
	consumerGroup = "dispatch-workers"

	fieldOrgID = "org_id"
	fieldEvent = "event"

	// claimIdle is how long a message may sit unacknowledged before another
	// consumer takes it over. A live consumer holds a message for up to one
	// fan-out, whose attempts run in parallel under maxClaimAge each, so
	// claimIdle must stay well above it.
	claimIdle = 10 * time.Minute
)

// StreamValues encodes an inbound event as stream message fields.
func StreamValues(orgID string, event model.Event) (map[string]any, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return map[string]any{fieldOrgID: orgID, fieldEvent: string(b)}, nil
}

func decodeMessage(msg redis.XMessage) (string, model.Event, error) {
	var event model.Event
	orgID, ok := msg.Values[fieldOrgID].(string)
	if !ok || orgID == "" {
		return "", event, errors.New("missing org_id")
	}
	raw, ok := msg.Values[fieldEvent].(string)
	if !ok {
		return "", event, errors.New("missing event")
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return "", event, fmt.Errorf("decode event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return "", event, errors.New("event id and type are required")
	}
	return orgID, event, nil
}

// Consumer reads inbound events from a Redis stream through a consumer group
// and publishes each one with the Dispatcher. Messages are acknowledged once
// their first attempts are recorded; retries are owned by the scheduler.
type Consumer struct {
	rdb          *redis.Client
	dispatcher   *Dispatcher
	stream       string
	concurrency  int
	pollInterval time.Duration
}

func NewConsumer(rdb *redis.Client, d *Dispatcher, stream string, concurrency int, pollInterval time.Duration) *Consumer {
	if stream == "" {
		stream = DefaultStream
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		rdb:          rdb,
		dispatcher:   d,
		stream:       stream,
		concurrency:  concurrency,
		pollInterval: pollInterval,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	for i := range c.concurrency {
		go c.consume(ctx, fmt.Sprintf("worker-%d", i))
	}
	go c.reclaim(ctx, "reclaimer")
	return nil
}

func (c *Consumer) consume(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Error("xreadgroup error", "error", err, "consumer", consumer)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// reclaim picks up messages left pending by consumers that died mid-flight.
func (c *Consumer) reclaim(ctx context.Context, consumer string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   c.stream,
				Group:    consumerGroup,
				Consumer: consumer,
				MinIdle:  claimIdle,
				Start:    "0-0",
				Count:    100,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("xautoclaim error", "error", err)
				}
				continue
			}
			for _, msg := range msgs {
				slog.Info("catch-up: processing pending event", "msg_id", msg.ID)
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	orgID, event, err := decodeMessage(msg)
	if err != nil {
		slog.Error("invalid stream message", "error", err, "msg_id", msg.ID)
		c.rdb.XAck(ctx, c.stream, consumerGroup, msg.ID)
		return
	}

	if _, err := c.dispatcher.Publish(ctx, orgID, event); err != nil {
		// Leave unacknowledged so reclaim retries it.
		slog.Error("publish failed", "error", err, "event_id", event.ID, "msg_id", msg.ID)
		return
	}
	c.rdb.XAck(ctx, c.stream, consumerGroup, msg.ID)
}
