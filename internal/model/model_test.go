package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchEventType(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "chat.session.started", true},
		{"document.processing.failed", "document.processing.failed", true},
		{"document.processing.failed", "document.processing.completed", false},
		{"document.*", "document.processing.failed", true},
		{"document.*", "documents.uploaded", false},
		{"document", "document.uploaded", false},
		{"compliance.check.*", "compliance.check.violation", true},
		{"compliance.check.*", "compliance.audit.completed", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchEventType(tc.pattern, tc.eventType), "%s vs %s", tc.pattern, tc.eventType)
	}
}

func TestDestinationSubscribes(t *testing.T) {
	all := Destination{}
	assert.True(t, all.Subscribes("system.health.alert"))

	some := Destination{EventTypes: []string{"chat.*", "analytics.threshold.exceeded"}}
	assert.True(t, some.Subscribes("chat.message.flagged"))
	assert.True(t, some.Subscribes("analytics.threshold.exceeded"))
	assert.False(t, some.Subscribes("document.uploaded"))
}

func validDestination() Destination {
	return Destination{
		OrgID:           "org_1",
		Name:            "ops hook",
		URL:             "https://example.com/hook",
		IntegrationType: IntegrationCustomWebhook,
		AuthType:        AuthNone,
		TimeoutSeconds:  30,
		RetryCount:      3,
		IsActive:        true,
	}
}

func TestDestinationValidate(t *testing.T) {
	d := validDestination()
	require.NoError(t, d.Validate())

	t.Run("timeout below range", func(t *testing.T) {
		d := validDestination()
		d.TimeoutSeconds = 1
		err := d.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.Contains(t, err.Error(), "timeoutseconds must be at least 5")
	})

	t.Run("timeout above range", func(t *testing.T) {
		d := validDestination()
		d.TimeoutSeconds = 301
		assert.Error(t, d.Validate())
	})

	t.Run("negative retry count", func(t *testing.T) {
		d := validDestination()
		d.RetryCount = -1
		assert.Error(t, d.Validate())
	})

	t.Run("unknown integration", func(t *testing.T) {
		d := validDestination()
		d.IntegrationType = "pager"
		assert.Error(t, d.Validate())
	})

	t.Run("blank event type entry", func(t *testing.T) {
		d := validDestination()
		d.EventTypes = []string{"document.*", " "}
		assert.Error(t, d.Validate())
	})
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, FailureNone, ClassifyStatus(204))
	assert.Equal(t, FailureHTTP5xx, ClassifyStatus(500))
	assert.Equal(t, FailureHTTP5xx, ClassifyStatus(429))
	assert.Equal(t, FailureHTTP4xx, ClassifyStatus(404))
	assert.Equal(t, FailureHTTP4xx, ClassifyStatus(301))

	assert.True(t, ClassifyStatus(503).Retryable())
	assert.True(t, ClassifyStatus(429).Retryable())
	assert.False(t, ClassifyStatus(400).Retryable())
	assert.False(t, FailureRateLimited.Retryable())
	assert.False(t, FailureConfigInvalid.Retryable())
}

func TestFailureKindErr(t *testing.T) {
	assert.Nil(t, FailureNone.Err())
	assert.ErrorIs(t, FailureTimeout.Err(), ErrTransport)
	assert.ErrorIs(t, FailureRateLimited.Err(), ErrRateLimitExceeded)
	assert.ErrorIs(t, FailureHTTP4xx.Err(), ErrRejectedByDestination)
	assert.ErrorIs(t, FailureConfigInvalid.Err(), ErrConfiguration)
}

func TestOutcomeClaimable(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Minute)

	cases := []struct {
		name     string
		outcome  Outcome
		attempts int
		want     bool
	}{
		{"retry due", Outcome{State: OutcomeRetryScheduled, Attempts: 1, UpdatedAt: now}, 1, true},
		{"pending", Outcome{State: OutcomePending}, 0, true},
		{"in flight", Outcome{State: OutcomeDelivering, Attempts: 0, UpdatedAt: now}, 0, false},
		{"abandoned", Outcome{State: OutcomeDelivering, Attempts: 0, UpdatedAt: stale.Add(-time.Second)}, 0, true},
		{"attempt already ran", Outcome{State: OutcomeRetryScheduled, Attempts: 2, UpdatedAt: now}, 1, false},
		{"delivered", Outcome{State: OutcomeDelivered, Attempts: 1, UpdatedAt: stale.Add(-time.Hour)}, 1, false},
		{"cancelled", Outcome{State: OutcomeCancelled, Attempts: 1}, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.outcome.Claimable(tc.attempts, stale))
		})
	}
}
