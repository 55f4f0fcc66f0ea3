package integration

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

func TestSeverity(t *testing.T) {
	tests := []struct {
		eventType string
		data      map[string]any
		want      string
	}{
		{"compliance.policy.violation", nil, SeverityCritical},
		{"system.security.breach", nil, SeverityCritical},
		{"document.processing.failed", nil, SeverityHigh},
		{"chat.session.error", nil, SeverityHigh},
		{"analytics.budget.exceeded", nil, SeverityMedium},
		{"analytics.usage.threshold", nil, SeverityMedium},
		{"document.uploaded", nil, SeverityLow},
		{"document.uploaded", map[string]any{"severity": "CRITICAL"}, SeverityCritical},
		{"document.processing.failed", map[string]any{"severity": "bogus"}, SeverityHigh},
	}
	for _, tc := range tests {
		got := Severity(model.Event{Type: tc.eventType, Data: tc.data})
		assert.Equal(t, tc.want, got, tc.eventType)
	}
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Document Processing Step Failed", Humanize("document.processing_step.failed"))
	assert.Equal(t, "Chat Session Ended", Humanize("chat.session-ended"))
	assert.Equal(t, "", Humanize(""))
}

func TestSummarizeByCategory(t *testing.T) {
	e := model.Event{
		Type: "chat.session.ended",
		Data: map[string]any{
			"sessionId":  "s_9",
			"tokensUsed": json.Number("1200"),
			"cost":       0.25,
			"ignored":    "x",
		},
	}
	s := Summarize(e)
	assert.Equal(t, "chat", s.Category)
	assert.Equal(t, "💬", s.Icon)
	assert.Equal(t, []Field{
		{"Session ID", "s_9"},
		{"Tokens", "1200"},
		{"Cost", "0.25"},
	}, s.Fields)
	assert.Empty(t, s.Details)
}

func TestSummarizeUnknownCategoryDumpsData(t *testing.T) {
	big := strings.Repeat("x", 5000)
	s := Summarize(model.Event{Type: "billing.invoice.paid", Data: map[string]any{"blob": big}})
	assert.Empty(t, s.Fields)
	assert.Equal(t, "🔔", s.Icon)
	assert.Equal(t, maxDumpLength, utf8.RuneCountInString(s.Details))
	assert.True(t, strings.HasSuffix(s.Details, "…"))
}

func TestSummarizeCapsFieldValues(t *testing.T) {
	s := Summarize(model.Event{Type: "document.uploaded", Data: map[string]any{"fileName": strings.Repeat("a", 500)}})
	require.Len(t, s.Fields, 1)
	assert.Equal(t, maxFieldValue, utf8.RuneCountInString(s.Fields[0].Value))
}

func TestRenderTemplate(t *testing.T) {
	vars, err := toVars(map[string]any{
		"event": map[string]any{"id": "evt_1", "data": map[string]any{"count": 3, "tags": []string{"a", "b"}}},
	})
	require.NoError(t, err)

	out, err := RenderTemplate(json.RawMessage(`{
		"id": "{{ event.id }}",
		"count": "{{event.data.count}}",
		"tags": "{{event.data.tags}}",
		"label": "n={{event.data.count}} tags={{event.data.tags}}",
		"nested": [{"ref": "{{event.id}}"}, 7, true],
		"missing": "x{{event.nope}}y"
	}`), vars)
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "evt_1",
		"count": 3,
		"tags": ["a","b"],
		"label": "n=3 tags=[\"a\",\"b\"]",
		"nested": [{"ref": "evt_1"}, 7, true],
		"missing": "xy"
	}`, string(b))

	_, err = RenderTemplate(json.RawMessage(`{"broken":`), vars)
	assert.Error(t, err)
}
