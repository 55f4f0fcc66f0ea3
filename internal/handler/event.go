package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/worker"
)

// StreamPublisher is the part of the Redis client used for ingest.
type StreamPublisher interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type EventHandler struct {
	rdb    StreamPublisher
	stream string
	now    func() time.Time
}

func NewEventHandler(rdb StreamPublisher, stream string, now func() time.Time) *EventHandler {
	if stream == "" {
		stream = worker.DefaultStream
	}
	if now == nil {
		now = time.Now
	}
	return &EventHandler{rdb: rdb, stream: stream, now: now}
}

type ingestRequest struct {
	ID        string         `json:"id"`
	Type      string         `json:"type" binding:"required"`
	Timestamp *time.Time     `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Ingest accepts a domain event and appends it to the event stream. Delivery
// happens asynchronously in the worker.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid event: type is required")
		return
	}

	event := model.Event{ID: req.ID, Type: req.Type, Data: req.Data}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	} else {
		event.Timestamp = h.now().UTC()
	}
	if event.Data == nil {
		event.Data = map[string]any{}
	}

	org := orgID(c)
	values, err := worker.StreamValues(org, event)
	if err != nil {
		c.String(http.StatusBadRequest, "event data is not serializable")
		return
	}
	msgID, err := h.rdb.XAdd(c.Request.Context(), &redis.XAddArgs{Stream: h.stream, Values: values}).Result()
	if err != nil {
		slog.Error("failed to publish event", "error", err, "event_id", event.ID, "org_id", org)
		c.String(http.StatusServiceUnavailable, "failed to enqueue event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"event_id":   event.ID,
		"event_type": event.Type,
		"stream_id":  msgID,
	})
}
