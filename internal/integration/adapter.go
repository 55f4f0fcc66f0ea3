package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

// Adapter is the per-integration delivery strategy. Deliver and Test never
// return errors: every failure is folded into the DeliveryResult.
type Adapter interface {
	Type() model.IntegrationType
	ValidateConfig() ValidationResult
	TransformPayload(event model.Event, meta Meta) ([]byte, error)
	Deliver(ctx context.Context, req *Request) model.DeliveryResult
	Test(ctx context.Context) model.DeliveryResult
}

// ValidationResult is the outcome of a config check.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Error: fmt.Sprintf(format, args...)}
}

// Meta is the delivery metadata available to payload transforms. It must be
// derived from the event and destination only so transforms stay repeatable.
type Meta struct {
	DeliveryID uuid.UUID `json:"id"`
	Attempt    int       `json:"attempt"`
}

// DeliveryID is stable for an (event, destination) pair.
func DeliveryID(eventID string, destinationID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(destinationID, []byte(eventID))
}

// Request is a transformed, signed payload ready for Deliver.
type Request struct {
	Body    []byte
	Headers map[string]string
}

// HTTPDoer abstracts http.Client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prepare runs the transform and attaches custom and authentication headers.
// Auth headers win over custom headers with the same name.
func Prepare(a Adapter, signer *signing.Signer, dest *model.Destination, event model.Event, meta Meta) (*Request, error) {
	body, err := a.TransformPayload(event, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: transform payload: %v", model.ErrConfiguration, err)
	}
	authHeaders, err := signer.Headers(dest.AuthType, dest.AuthConfig, body)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(dest.CustomHeaders)+len(authHeaders))
	maps.Copy(headers, dest.CustomHeaders)
	maps.Copy(headers, authHeaders)
	return &Request{Body: body, Headers: headers}, nil
}

// TestEvent builds the synthetic low-severity event used by Test.
func TestEvent(dest *model.Destination, now time.Time) model.Event {
	return model.Event{
		ID:        "test_" + uuid.NewString(),
		Type:      "system.health.alert",
		Timestamp: now.UTC(),
		Data: map[string]any{
			"severity":  "low",
			"component": "webhook-dispatch",
			"status":    "ok",
			"message":   fmt.Sprintf("Test notification for %q", dest.Name),
		},
	}
}

// base carries what every adapter shares.
type base struct {
	dest   *model.Destination
	signer *signing.Signer
	now    func() time.Time
}

// runTest drives a synthetic event through the same validate, transform, sign
// and deliver path used for real events.
func (b *base) runTest(ctx context.Context, a Adapter) model.DeliveryResult {
	if v := a.ValidateConfig(); !v.Valid {
		return configFailure(v.Error)
	}
	event := TestEvent(b.dest, b.now())
	req, err := Prepare(a, b.signer, b.dest, event, Meta{DeliveryID: DeliveryID(event.ID, b.dest.ID), Attempt: 1})
	if err != nil {
		return configFailure(err.Error())
	}
	return a.Deliver(ctx, req)
}

func (b *base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.dest.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.dest.Timeout())
}

func configFailure(msg string) model.DeliveryResult {
	return model.DeliveryResult{Failure: model.FailureConfigInvalid, Error: msg}
}

// decodeSettings unmarshals the destination's integration settings into v.
// Missing settings decode to the zero value.
func decodeSettings(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
