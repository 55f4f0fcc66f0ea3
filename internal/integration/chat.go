package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

var chatURLPatterns = map[model.IntegrationType]*regexp.Regexp{
	model.IntegrationSlack:          regexp.MustCompile(`^https://hooks\.slack\.com/services/[A-Za-z0-9_/-]+$`),
	model.IntegrationMicrosoftTeams: regexp.MustCompile(`^https://[A-Za-z0-9.-]+\.(webhook\.office\.com|logic\.azure\.com)(:443)?/.+$`),
	model.IntegrationDiscord:        regexp.MustCompile(`^https://(discord\.com|discordapp\.com)/api/webhooks/[0-9]+/[A-Za-z0-9_-]+$`),
}

// ChatSettings is the integration-specific config for chat destinations.
type ChatSettings struct {
	Channel   string `json:"channel"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// ChatAdapter renders events as Slack attachments, Teams message cards or
// Discord embeds and posts them to the channel's incoming webhook.
type ChatAdapter struct {
	base
	kind        model.IntegrationType
	settings    ChatSettings
	settingsErr error
	client      HTTPDoer
	bodyLimit   int64
}

func NewChatAdapter(kind model.IntegrationType, dest *model.Destination, signer *signing.Signer, client HTTPDoer, bodyLimit int64, now func() time.Time) *ChatAdapter {
	a := &ChatAdapter{
		base:      base{dest: dest, signer: signer, now: now},
		kind:      kind,
		client:    client,
		bodyLimit: bodyLimit,
	}
	a.settingsErr = decodeSettings(dest.Settings, &a.settings)
	return a
}

func (a *ChatAdapter) Type() model.IntegrationType {
	return a.kind
}

func (a *ChatAdapter) ValidateConfig() ValidationResult {
	if a.settingsErr != nil {
		return invalid("%v", a.settingsErr)
	}
	if strings.TrimSpace(a.settings.Channel) == "" {
		return invalid("channel is required")
	}
	pattern, ok := chatURLPatterns[a.kind]
	if !ok {
		return invalid("unsupported chat provider %q", a.kind)
	}
	if !pattern.MatchString(strings.TrimSpace(a.dest.URL)) {
		return invalid("url is not a valid %s incoming webhook", a.kind)
	}
	if err := signing.ValidateAuth(a.dest.AuthType, a.dest.AuthConfig); err != nil {
		return invalid("%v", err)
	}
	if err := validateHeaders(a.dest.CustomHeaders); err != nil {
		return invalid("%v", err)
	}
	return valid()
}

func (a *ChatAdapter) TransformPayload(event model.Event, _ Meta) ([]byte, error) {
	s := Summarize(event)
	switch a.kind {
	case model.IntegrationSlack:
		return json.Marshal(a.slackMessage(event, s))
	case model.IntegrationMicrosoftTeams:
		return json.Marshal(teamsCard(event, s))
	case model.IntegrationDiscord:
		return json.Marshal(a.discordMessage(event, s))
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedIntegration, a.kind)
	}
}

func (a *ChatAdapter) Deliver(ctx context.Context, req *Request) model.DeliveryResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return postJSON(ctx, a.client, a.dest.URL, req, a.bodyLimit)
}

func (a *ChatAdapter) Test(ctx context.Context) model.DeliveryResult {
	return a.runTest(ctx, a)
}

func headline(s Summary) string {
	return fmt.Sprintf("%s %s", s.Icon, s.Title)
}

func footer(event model.Event) string {
	return "event " + event.ID
}

// Slack

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Title    string       `json:"title"`
	Text     string       `json:"text,omitempty"`
	Fields   []slackField `json:"fields,omitempty"`
	Footer   string       `json:"footer"`
	Ts       int64        `json:"ts"`
	Fallback string       `json:"fallback"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (a *ChatAdapter) slackMessage(event model.Event, s Summary) slackMessage {
	fields := make([]slackField, 0, len(s.Fields)+1)
	fields = append(fields, slackField{Title: "Severity", Value: strings.ToUpper(s.Severity), Short: true})
	for _, f := range s.Fields {
		fields = append(fields, slackField{Title: f.Name, Value: f.Value, Short: len(f.Value) <= 40})
	}
	return slackMessage{
		Channel:   a.settings.Channel,
		Username:  a.settings.Username,
		IconEmoji: a.settings.IconEmoji,
		Text:      headline(s),
		Attachments: []slackAttachment{{
			Color:    s.Color,
			Title:    s.Title,
			Text:     s.Details,
			Fields:   fields,
			Footer:   footer(event),
			Ts:       event.Timestamp.Unix(),
			Fallback: headline(s),
		}},
	}
}

// Microsoft Teams

type teamsMessageCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
}

type teamsSection struct {
	ActivityTitle    string      `json:"activityTitle"`
	ActivitySubtitle string      `json:"activitySubtitle"`
	Facts            []teamsFact `json:"facts,omitempty"`
	Text             string      `json:"text,omitempty"`
	Markdown         bool        `json:"markdown"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func teamsCard(event model.Event, s Summary) teamsMessageCard {
	facts := make([]teamsFact, 0, len(s.Fields))
	for _, f := range s.Fields {
		facts = append(facts, teamsFact{Name: f.Name, Value: f.Value})
	}
	return teamsMessageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: strings.TrimPrefix(s.Color, "#"),
		Summary:    s.Title,
		Title:      headline(s),
		Sections: []teamsSection{{
			ActivityTitle:    "Severity: " + strings.ToUpper(s.Severity),
			ActivitySubtitle: event.Timestamp.UTC().Format(time.RFC3339) + " · " + footer(event),
			Facts:            facts,
			Text:             s.Details,
			Markdown:         true,
		}},
	}
}

// Discord

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (a *ChatAdapter) discordMessage(event model.Event, s Summary) discordMessage {
	fields := make([]discordField, 0, len(s.Fields)+1)
	fields = append(fields, discordField{Name: "Severity", Value: strings.ToUpper(s.Severity), Inline: true})
	for _, f := range s.Fields {
		fields = append(fields, discordField{Name: f.Name, Value: f.Value, Inline: len(f.Value) <= 40})
	}
	color, _ := strconv.ParseInt(strings.TrimPrefix(s.Color, "#"), 16, 32)
	return discordMessage{
		Username: a.settings.Username,
		Embeds: []discordEmbed{{
			Title:       headline(s),
			Description: s.Details,
			Color:       int(color),
			Fields:      fields,
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: "#" + strings.TrimPrefix(a.settings.Channel, "#") + " · " + footer(event)},
		}},
	}
}
