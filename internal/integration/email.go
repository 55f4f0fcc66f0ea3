package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

// EmailSettings is the integration-specific config for email destinations.
type EmailSettings struct {
	To            []string `json:"to"`
	Cc            []string `json:"cc,omitempty"`
	Bcc           []string `json:"bcc,omitempty"`
	From          string   `json:"from,omitempty"`
	SubjectPrefix string   `json:"subject_prefix,omitempty"`
}

// EmailMessage is the transformed payload for email destinations. It is
// serialized so the attempt journal records exactly what was sent.
type EmailMessage struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// Mailer sends a composed message.
type Mailer interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

var emailHTML = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2 style="color:{{.Color}}">{{.Icon}} {{.Title}}</h2>
<p><strong>Severity:</strong> {{.Severity}}</p>
{{if .Fields}}<table cellpadding="4">
{{range .Fields}}<tr><td><strong>{{.Name}}</strong></td><td>{{.Value}}</td></tr>
{{end}}</table>{{end}}
{{if .Details}}<pre style="white-space:pre-wrap">{{.Details}}</pre>{{end}}
<p style="color:#888">Event {{.EventID}} at {{.Timestamp}}</p>
</body></html>
`))

type EmailAdapter struct {
	base
	settings    EmailSettings
	settingsErr error
	mailer      Mailer
}

func NewEmailAdapter(dest *model.Destination, signer *signing.Signer, mailer Mailer, now func() time.Time) *EmailAdapter {
	a := &EmailAdapter{
		base:   base{dest: dest, signer: signer, now: now},
		mailer: mailer,
	}
	a.settingsErr = decodeSettings(dest.Settings, &a.settings)
	return a
}

func (a *EmailAdapter) Type() model.IntegrationType {
	return model.IntegrationEmail
}

func (a *EmailAdapter) ValidateConfig() ValidationResult {
	if a.settingsErr != nil {
		return invalid("%v", a.settingsErr)
	}
	if len(a.settings.To) == 0 {
		return invalid("at least one recipient is required")
	}
	for _, group := range [][]string{a.settings.To, a.settings.Cc, a.settings.Bcc} {
		for _, addr := range group {
			if _, err := mail.ParseAddress(addr); err != nil {
				return invalid("invalid email address %q", addr)
			}
		}
	}
	if a.settings.From != "" {
		if _, err := mail.ParseAddress(a.settings.From); err != nil {
			return invalid("invalid from address %q", a.settings.From)
		}
	}
	return valid()
}

func (a *EmailAdapter) TransformPayload(event model.Event, _ Meta) ([]byte, error) {
	s := Summarize(event)

	subject := fmt.Sprintf("%s[%s] %s", a.settings.SubjectPrefix, strings.ToUpper(s.Severity), s.Title)

	var text strings.Builder
	fmt.Fprintf(&text, "%s %s\n", s.Icon, s.Title)
	fmt.Fprintf(&text, "Severity: %s\n", strings.ToUpper(s.Severity))
	if len(s.Fields) > 0 {
		text.WriteString("\n")
		for _, f := range s.Fields {
			fmt.Fprintf(&text, "%s: %s\n", f.Name, f.Value)
		}
	}
	if s.Details != "" {
		fmt.Fprintf(&text, "\n%s\n", s.Details)
	}
	ts := event.Timestamp.UTC().Format(time.RFC3339)
	fmt.Fprintf(&text, "\nEvent %s at %s\n", event.ID, ts)

	var html bytes.Buffer
	err := emailHTML.Execute(&html, struct {
		Summary
		EventID   string
		Timestamp string
	}{s, event.ID, ts})
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	return json.Marshal(EmailMessage{
		From:    a.settings.From,
		To:      a.settings.To,
		Cc:      a.settings.Cc,
		Bcc:     a.settings.Bcc,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	})
}

func (a *EmailAdapter) Deliver(ctx context.Context, req *Request) model.DeliveryResult {
	start := time.Now()
	result := func(r model.DeliveryResult) model.DeliveryResult {
		r.DeliveryTimeMs = time.Since(start).Milliseconds()
		return r
	}

	var msg EmailMessage
	if err := json.Unmarshal(req.Body, &msg); err != nil {
		return result(configFailure(fmt.Sprintf("decode email payload: %v", err)))
	}
	if a.mailer == nil {
		return result(configFailure("email delivery is not configured"))
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.mailer.Send(ctx, &msg); err != nil {
		r := model.DeliveryResult{Failure: classifyMailError(ctx, err), Error: err.Error()}
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			code := tpErr.Code
			r.StatusCode = &code
			r.ResponseBody = strings.TrimSpace(tpErr.Msg)
		}
		return result(r)
	}
	code := 250
	return result(model.DeliveryResult{Success: true, StatusCode: &code, ResponseBody: "message accepted"})
}

func (a *EmailAdapter) Test(ctx context.Context) model.DeliveryResult {
	return a.runTest(ctx, a)
}

// classifyMailError maps SMTP reply codes onto failure kinds: permanent 5xx
// replies are rejections, transient 4xx replies are retried like server
// errors.
func classifyMailError(ctx context.Context, err error) model.FailureKind {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return model.FailureRejected
		}
		return model.FailureHTTP5xx
	}
	return classifyTransportError(ctx, err)
}
