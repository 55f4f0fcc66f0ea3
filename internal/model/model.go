package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact emitted by the host system.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Category returns the top-level segment of the event type ("document" for
// "document.processing.failed").
func (e Event) Category() string {
	category, _, _ := strings.Cut(e.Type, ".")
	return category
}

type IntegrationType string

const (
	IntegrationCustomWebhook  IntegrationType = "custom_webhook"
	IntegrationSlack          IntegrationType = "slack"
	IntegrationMicrosoftTeams IntegrationType = "microsoft_teams"
	IntegrationDiscord        IntegrationType = "discord"
	IntegrationEmail          IntegrationType = "email"
	IntegrationSMS            IntegrationType = "sms"
)

type AuthType string

const (
	AuthNone        AuthType = "none"
	AuthAPIKey      AuthType = "api_key"
	AuthBearerToken AuthType = "bearer_token"
	AuthHMACSHA256  AuthType = "hmac_sha256"
)

// AuthConfig holds the secret material for a destination. Which fields are
// required depends on the AuthType.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Destination is a webhook configuration owned by an organization. The
// dispatcher treats it as read-only apart from LastTriggeredAt.
type Destination struct {
	ID               uuid.UUID         `json:"id" yaml:"id"`
	OrgID            string            `json:"org_id" yaml:"org_id" validate:"required"`
	Name             string            `json:"name" yaml:"name" validate:"required,max=200"`
	URL              string            `json:"url" yaml:"url"`
	IntegrationType  IntegrationType   `json:"integration_type" yaml:"integration_type" validate:"required,oneof=custom_webhook slack microsoft_teams discord email sms"`
	EventTypes       []string          `json:"event_types" yaml:"event_types"`
	AuthType         AuthType          `json:"auth_type" yaml:"auth_type" validate:"omitempty,oneof=none api_key bearer_token hmac_sha256"`
	AuthConfig       AuthConfig        `json:"-" yaml:"auth_config"`
	Settings         json.RawMessage   `json:"settings,omitempty" yaml:"-"`
	TimeoutSeconds   int               `json:"timeout_seconds" yaml:"timeout_seconds" validate:"min=5,max=300"`
	RetryCount       int               `json:"retry_count" yaml:"retry_count" validate:"min=0,max=10"`
	RateLimitPerHour int               `json:"rate_limit_per_hour" yaml:"rate_limit_per_hour" validate:"min=0"`
	RateLimitPerDay  int               `json:"rate_limit_per_day" yaml:"rate_limit_per_day" validate:"min=0"`
	CustomHeaders    map[string]string `json:"custom_headers,omitempty" yaml:"custom_headers,omitempty"`
	PayloadTemplate  json.RawMessage   `json:"payload_template,omitempty" yaml:"-"`
	TransformScript  *string           `json:"transform_script,omitempty" yaml:"transform_script,omitempty"`
	IsActive         bool              `json:"is_active" yaml:"is_active"`
	LastTriggeredAt  *time.Time        `json:"last_triggered_at,omitempty" yaml:"-"`
	CreatedAt        time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time         `json:"updated_at" yaml:"-"`
}

// MaxTimeout is the upper bound of TimeoutSeconds.
const MaxTimeout = 300 * time.Second

// Timeout is the per-attempt deadline for this destination.
func (d *Destination) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// MaxAttempts is the initial attempt plus the retry budget.
func (d *Destination) MaxAttempts() int {
	return d.RetryCount + 1
}

// Subscribes reports whether the destination should receive events of the
// given type. An empty EventTypes list subscribes to everything; "*" matches
// all types and entries ending in ".*" match by prefix.
func (d *Destination) Subscribes(eventType string) bool {
	if len(d.EventTypes) == 0 {
		return true
	}
	for _, pattern := range d.EventTypes {
		if MatchEventType(pattern, eventType) {
			return true
		}
	}
	return false
}

func MatchEventType(pattern, eventType string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == eventType
	}
}

// FailureKind classifies why a delivery attempt did not succeed.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureConfigInvalid FailureKind = "CONFIG_INVALID"
	FailureRateLimited   FailureKind = "RATE_LIMITED"
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureNetwork       FailureKind = "NETWORK_ERROR"
	FailureHTTP4xx       FailureKind = "HTTP_4XX"
	FailureHTTP5xx       FailureKind = "HTTP_5XX"
	FailureRejected      FailureKind = "REJECTED"
)

// DeliveryResult is what an adapter reports back for one delivery call.
type DeliveryResult struct {
	Success        bool        `json:"success"`
	StatusCode     *int        `json:"status_code,omitempty"`
	ResponseBody   string      `json:"response_body,omitempty"`
	Error          string      `json:"error,omitempty"`
	Failure        FailureKind `json:"failure,omitempty"`
	DeliveryTimeMs int64       `json:"delivery_time_ms"`
}

// DeliveryAttempt is one append-only record of a try to reach a destination.
type DeliveryAttempt struct {
	ID             uuid.UUID       `json:"id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	DestinationID  uuid.UUID       `json:"destination_id"`
	Attempt        int             `json:"attempt"`
	RequestPayload json.RawMessage `json:"request_payload,omitempty"`
	StatusCode     *int            `json:"status_code,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	Success        bool            `json:"success"`
	Failure        FailureKind     `json:"failure,omitempty"`
	Error          *string         `json:"error,omitempty"`
	DeliveryTimeMs int64           `json:"delivery_time_ms"`
	AttemptedAt    time.Time       `json:"attempted_at"`
}

type OutcomeState string

const (
	OutcomePending        OutcomeState = "PENDING"
	OutcomeDelivering     OutcomeState = "DELIVERING"
	OutcomeDelivered      OutcomeState = "DELIVERED"
	OutcomeRetryScheduled OutcomeState = "RETRY_SCHEDULED"
	OutcomeExhausted      OutcomeState = "EXHAUSTED"
	OutcomeFailed         OutcomeState = "FAILED"
	OutcomeCancelled      OutcomeState = "CANCELLED"
)

// Terminal reports whether no further attempts will be made.
func (s OutcomeState) Terminal() bool {
	switch s {
	case OutcomeDelivered, OutcomeExhausted, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// Outcome is the current delivery status for one (event, destination) pair.
type Outcome struct {
	EventID       string       `json:"event_id"`
	DestinationID uuid.UUID    `json:"destination_id"`
	State         OutcomeState `json:"state"`
	Attempts      int          `json:"attempts"`
	LastFailure   FailureKind  `json:"last_failure,omitempty"`
	LastError     *string      `json:"last_error,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Claimable reports whether the attempt following attempts may start from o.
// A DELIVERING outcome last touched before staleBefore was left by a worker
// that died mid-attempt.
func (o *Outcome) Claimable(attempts int, staleBefore time.Time) bool {
	if o.Attempts != attempts {
		return false
	}
	switch o.State {
	case OutcomePending, OutcomeRetryScheduled:
		return true
	case OutcomeDelivering:
		return o.UpdatedAt.Before(staleBefore)
	}
	return false
}
