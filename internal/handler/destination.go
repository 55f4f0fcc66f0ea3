package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

// DestinationRepository is the registry surface the API manages.
type DestinationRepository interface {
	Create(ctx context.Context, d *model.Destination) (*model.Destination, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Destination, error)
	List(ctx context.Context, orgID string) ([]model.Destination, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type DestinationHandler struct {
	destinations DestinationRepository
	factory      *integration.Factory
}

func NewDestinationHandler(destinations DestinationRepository, factory *integration.Factory) *DestinationHandler {
	return &DestinationHandler{destinations: destinations, factory: factory}
}

type destinationRequest struct {
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	IntegrationType  string            `json:"integration_type"`
	EventTypes       []string          `json:"event_types"`
	AuthType         string            `json:"auth_type"`
	AuthConfig       model.AuthConfig  `json:"auth_config"`
	Settings         json.RawMessage   `json:"settings,omitempty"`
	TimeoutSeconds   *int              `json:"timeout_seconds,omitempty"`
	RetryCount       *int              `json:"retry_count,omitempty"`
	RateLimitPerHour int               `json:"rate_limit_per_hour"`
	RateLimitPerDay  int               `json:"rate_limit_per_day"`
	CustomHeaders    map[string]string `json:"custom_headers,omitempty"`
	PayloadTemplate  json.RawMessage   `json:"payload_template,omitempty"`
	TransformScript  *string           `json:"transform_script,omitempty"`
	IsActive         *bool             `json:"is_active,omitempty"`
}

func (r destinationRequest) destination(orgID string) *model.Destination {
	d := &model.Destination{
		OrgID:            orgID,
		Name:             r.Name,
		URL:              r.URL,
		IntegrationType:  model.IntegrationType(r.IntegrationType),
		EventTypes:       r.EventTypes,
		AuthType:         model.AuthType(r.AuthType),
		AuthConfig:       r.AuthConfig,
		Settings:         r.Settings,
		TimeoutSeconds:   30,
		RetryCount:       3,
		RateLimitPerHour: r.RateLimitPerHour,
		RateLimitPerDay:  r.RateLimitPerDay,
		CustomHeaders:    r.CustomHeaders,
		PayloadTemplate:  r.PayloadTemplate,
		TransformScript:  r.TransformScript,
		IsActive:         true,
	}
	if d.IntegrationType == "" {
		d.IntegrationType = model.IntegrationCustomWebhook
	}
	if d.AuthType == "" {
		d.AuthType = model.AuthNone
	}
	if r.TimeoutSeconds != nil {
		d.TimeoutSeconds = *r.TimeoutSeconds
	}
	if r.RetryCount != nil {
		d.RetryCount = *r.RetryCount
	}
	if r.IsActive != nil {
		d.IsActive = *r.IsActive
	}
	return d
}

func (h *DestinationHandler) Create(c *gin.Context) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	dest := req.destination(orgID(c))
	if res := h.factory.Check(dest); !res.Valid {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}

	created, err := h.destinations.Create(c.Request.Context(), dest)
	if err != nil {
		slog.Error("failed to create destination", "error", err, "org_id", dest.OrgID)
		c.String(http.StatusInternalServerError, "failed to create destination")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *DestinationHandler) List(c *gin.Context) {
	dests, err := h.destinations.List(c.Request.Context(), orgID(c))
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list destinations")
		return
	}
	if dests == nil {
		c.Data(http.StatusOK, "application/json", []byte("[]"))
		return
	}
	c.JSON(http.StatusOK, dests)
}

func (h *DestinationHandler) Get(c *gin.Context) {
	dest, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dest)
}

type activeRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *DestinationHandler) SetActive(c *gin.Context) {
	dest, ok := h.load(c)
	if !ok {
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "is_active is required")
		return
	}
	if err := h.destinations.SetActive(c.Request.Context(), dest.ID, *req.IsActive); err != nil {
		c.String(http.StatusInternalServerError, "failed to update destination")
		return
	}
	dest.IsActive = *req.IsActive
	c.JSON(http.StatusOK, dest)
}

// Validate checks a destination config without storing it.
func (h *DestinationHandler) Validate(c *gin.Context) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	c.JSON(http.StatusOK, h.factory.Check(req.destination(orgID(c))))
}

// Test sends a synthetic event to a stored destination and reports the
// result. Nothing is recorded in the attempt log.
func (h *DestinationHandler) Test(c *gin.Context) {
	dest, ok := h.load(c)
	if !ok {
		return
	}
	adapter, err := h.factory.Create(dest)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, integration.ValidationResult{Error: err.Error()})
		return
	}
	res := adapter.Test(c.Request.Context())
	slog.Info("destination test",
		"destination_id", dest.ID,
		"success", res.Success,
		"failure", res.Failure,
	)
	c.JSON(http.StatusOK, res)
}

// load fetches the destination named by the :id param and hides
// destinations owned by other organizations.
func (h *DestinationHandler) load(c *gin.Context) (*model.Destination, bool) {
	return loadOwned(c, h.destinations)
}

// DestinationGetter loads a single destination by id.
type DestinationGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Destination, error)
}

func loadOwned(c *gin.Context, destinations DestinationGetter) (*model.Destination, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid destination id")
		return nil, false
	}
	dest, err := destinations.Get(c.Request.Context(), id)
	if errors.Is(err, model.ErrNotFound) || (err == nil && dest.OrgID != orgID(c)) {
		c.String(http.StatusNotFound, "destination not found")
		return nil, false
	}
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load destination")
		return nil, false
	}
	return dest, true
}
