package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

type AttemptReader interface {
	ListByDestination(ctx context.Context, destinationID uuid.UUID, limit int) ([]model.DeliveryAttempt, error)
	ListByPair(ctx context.Context, eventID string, destinationID uuid.UUID) ([]model.DeliveryAttempt, error)
}

type OutcomeReader interface {
	Get(ctx context.Context, eventID string, destinationID uuid.UUID) (*model.Outcome, error)
}

// DeliveryHandler serves the attempt log and per-pair outcomes.
type DeliveryHandler struct {
	destinations DestinationGetter
	attempts     AttemptReader
	outcomes     OutcomeReader
}

func NewDeliveryHandler(destinations DestinationGetter, attempts AttemptReader, outcomes OutcomeReader) *DeliveryHandler {
	return &DeliveryHandler{destinations: destinations, attempts: attempts, outcomes: outcomes}
}

func (h *DeliveryHandler) ListAttempts(c *gin.Context) {
	dest, ok := loadOwned(c, h.destinations)
	if !ok {
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	attempts, err := h.attempts.ListByDestination(c.Request.Context(), dest.ID, limit)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		c.Data(http.StatusOK, "application/json", []byte("[]"))
		return
	}
	c.JSON(http.StatusOK, attempts)
}

type outcomeResponse struct {
	Outcome  *model.Outcome          `json:"outcome"`
	Attempts []model.DeliveryAttempt `json:"attempts"`
}

// GetOutcome returns the current state of one (event, destination) pair and
// every attempt made for it.
func (h *DeliveryHandler) GetOutcome(c *gin.Context) {
	dest, ok := loadOwned(c, h.destinations)
	if !ok {
		return
	}
	eventID := c.Param("eventId")

	outcome, err := h.outcomes.Get(c.Request.Context(), eventID, dest.ID)
	if errors.Is(err, model.ErrNotFound) {
		c.String(http.StatusNotFound, "no deliveries for this event")
		return
	}
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load outcome")
		return
	}

	attempts, err := h.attempts.ListByPair(c.Request.Context(), eventID, dest.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []model.DeliveryAttempt{}
	}
	c.JSON(http.StatusOK, outcomeResponse{Outcome: outcome, Attempts: attempts})
}
