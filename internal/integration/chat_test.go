package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

func chatDest(kind model.IntegrationType, url string) *model.Destination {
	d := webhookDest(url)
	d.IntegrationType = kind
	d.Settings = json.RawMessage(`{"channel":"#ops","username":"dispatch"}`)
	return d
}

func TestChatValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		kind model.IntegrationType
		url  string
		ok   bool
	}{
		{"slack", model.IntegrationSlack, "https://hooks.slack.com/services/T000/B000/XXXX", true},
		{"slack wrong host", model.IntegrationSlack, "https://example.com/services/T000", false},
		{"teams", model.IntegrationMicrosoftTeams, "https://acme.webhook.office.com/webhookb2/abc", true},
		{"teams http", model.IntegrationMicrosoftTeams, "http://acme.webhook.office.com/webhookb2/abc", false},
		{"discord", model.IntegrationDiscord, "https://discord.com/api/webhooks/123456/tok_en-1", true},
		{"discord legacy host", model.IntegrationDiscord, "https://discordapp.com/api/webhooks/1/abc", true},
		{"discord slack url", model.IntegrationDiscord, "https://hooks.slack.com/services/T000/B000/XXXX", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewChatAdapter(tc.kind, chatDest(tc.kind, tc.url), signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock)
			v := a.ValidateConfig()
			assert.Equal(t, tc.ok, v.Valid, v.Error)
		})
	}

	t.Run("channel required", func(t *testing.T) {
		d := chatDest(model.IntegrationSlack, "https://hooks.slack.com/services/T000/B000/XXXX")
		d.Settings = json.RawMessage(`{"channel":"  "}`)
		v := NewChatAdapter(model.IntegrationSlack, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock).ValidateConfig()
		assert.False(t, v.Valid)
		assert.Contains(t, v.Error, "channel")
	})

	t.Run("custom headers", func(t *testing.T) {
		for name, headers := range map[string]map[string]string{
			"space in name": {"X Bad": "v"},
			"colon in name": {"X-Bad:": "v"},
			"empty name":    {"": "v"},
			"newline value": {"X-Team": "ops\nX-Injected: 1"},
		} {
			d := chatDest(model.IntegrationDiscord, "https://discord.com/api/webhooks/123456/tok_en-1")
			d.CustomHeaders = headers
			v := NewChatAdapter(model.IntegrationDiscord, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock).ValidateConfig()
			assert.False(t, v.Valid, name)
			assert.Contains(t, v.Error, "custom header", name)
		}

		d := chatDest(model.IntegrationSlack, "https://hooks.slack.com/services/T000/B000/XXXX")
		d.CustomHeaders = map[string]string{"X-Team": "ops"}
		v := NewChatAdapter(model.IntegrationSlack, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock).ValidateConfig()
		assert.True(t, v.Valid, v.Error)
	})

	t.Run("malformed settings", func(t *testing.T) {
		d := chatDest(model.IntegrationSlack, "https://hooks.slack.com/services/T000/B000/XXXX")
		d.Settings = json.RawMessage(`{"channel":`)
		v := NewChatAdapter(model.IntegrationSlack, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock).ValidateConfig()
		assert.False(t, v.Valid)
	})
}

func TestSlackPayload(t *testing.T) {
	d := chatDest(model.IntegrationSlack, "https://hooks.slack.com/services/T/B/X")
	a := NewChatAdapter(model.IntegrationSlack, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock)
	e := docFailedEvent()

	body, err := a.TransformPayload(e, metaFor(e, d))
	require.NoError(t, err)

	var msg slackMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "#ops", msg.Channel)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "Document Processing Failed", att.Title)
	assert.Equal(t, severityColors[SeverityHigh], att.Color)
	assert.Equal(t, fixedNow.Unix(), att.Ts)

	var names []string
	for _, f := range att.Fields {
		names = append(names, f.Title+"="+f.Value)
	}
	assert.Contains(t, names, "Document ID=doc_1")
	assert.Contains(t, names, "Error=timeout")
	assert.Contains(t, names, "Severity=HIGH")
}

func TestTeamsPayload(t *testing.T) {
	d := chatDest(model.IntegrationMicrosoftTeams, "https://acme.webhook.office.com/x")
	a := NewChatAdapter(model.IntegrationMicrosoftTeams, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock)
	e := model.Event{
		ID:        "evt_2",
		Type:      "compliance.policy.violation",
		Timestamp: fixedNow,
		Data:      map[string]any{"ruleId": "R-7", "policy": "retention"},
	}

	body, err := a.TransformPayload(e, metaFor(e, d))
	require.NoError(t, err)

	var card teamsMessageCard
	require.NoError(t, json.Unmarshal(body, &card))
	assert.Equal(t, "MessageCard", card.Type)
	assert.Equal(t, strings.TrimPrefix(severityColors[SeverityCritical], "#"), card.ThemeColor)
	require.Len(t, card.Sections, 1)
	assert.Equal(t, []teamsFact{{"Rule", "R-7"}, {"Policy", "retention"}}, card.Sections[0].Facts)
}

func TestDiscordPayload(t *testing.T) {
	d := chatDest(model.IntegrationDiscord, "https://discord.com/api/webhooks/1/x")
	a := NewChatAdapter(model.IntegrationDiscord, d, signing.NewSigner(), http.DefaultClient, DefaultBodyLimit, clock)
	e := model.Event{ID: "evt_3", Type: "billing.invoice.created", Timestamp: fixedNow, Data: map[string]any{"amount": 12.5}}

	body, err := a.TransformPayload(e, metaFor(e, d))
	require.NoError(t, err)

	var msg discordMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "🔔 Billing Invoice Created", embed.Title)
	assert.Equal(t, 0x2EB67D, embed.Color)
	assert.Equal(t, `{"amount":12.5}`, embed.Description)
	assert.Equal(t, "2026-03-01T12:00:00Z", embed.Timestamp)
}

func TestChatDeliver(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// Delivery posts to the configured URL regardless of the pattern check,
	// which only runs in ValidateConfig.
	d := chatDest(model.IntegrationSlack, srv.URL)
	a := NewChatAdapter(model.IntegrationSlack, d, signing.NewSigner(), srv.Client(), DefaultBodyLimit, clock)
	e := docFailedEvent()
	req, err := Prepare(a, signing.NewSigner(), d, e, metaFor(e, d))
	require.NoError(t, err)

	res := a.Deliver(context.Background(), req)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "ok", res.ResponseBody)
	assert.Equal(t, "#ops", got["channel"])
}
