package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

const maxSMSLength = 800

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// SMSSettings is the integration-specific config for SMS destinations.
type SMSSettings struct {
	Recipients []string `json:"recipients"`
	Provider   string   `json:"provider,omitempty"`
	AccountSID string   `json:"account_sid"`
	AuthToken  string   `json:"auth_token"`
	FromNumber string   `json:"from_number"`
}

// SMSMessage is the transformed payload for SMS destinations.
type SMSMessage struct {
	To   []string `json:"to"`
	Body string   `json:"body"`
}

// SMSReceipt is what a provider reports for one accepted message.
type SMSReceipt struct {
	ID         string
	StatusCode int
	Body       string
}

// SMSProvider sends one text message to one recipient.
type SMSProvider interface {
	Send(ctx context.Context, to, body string) (SMSReceipt, error)
}

// SMSAdapter fans one message out to every recipient. The delivery succeeds
// when at least one recipient accepted it.
type SMSAdapter struct {
	base
	settings    SMSSettings
	settingsErr error
	provider    SMSProvider
}

func NewSMSAdapter(dest *model.Destination, signer *signing.Signer, provider func(SMSSettings) SMSProvider, now func() time.Time) *SMSAdapter {
	a := &SMSAdapter{base: base{dest: dest, signer: signer, now: now}}
	a.settingsErr = decodeSettings(dest.Settings, &a.settings)
	if a.settingsErr == nil && provider != nil {
		a.provider = provider(a.settings)
	}
	return a
}

func (a *SMSAdapter) Type() model.IntegrationType {
	return model.IntegrationSMS
}

func (a *SMSAdapter) ValidateConfig() ValidationResult {
	if a.settingsErr != nil {
		return invalid("%v", a.settingsErr)
	}
	s := a.settings
	if len(s.Recipients) == 0 {
		return invalid("at least one recipient is required")
	}
	for _, r := range s.Recipients {
		if !e164.MatchString(r) {
			return invalid("recipient %q is not an E.164 phone number", r)
		}
	}
	if s.Provider != "" && s.Provider != "twilio" {
		return invalid("unsupported sms provider %q", s.Provider)
	}
	if strings.TrimSpace(s.AccountSID) == "" || strings.TrimSpace(s.AuthToken) == "" {
		return invalid("provider credentials are required")
	}
	if !e164.MatchString(s.FromNumber) {
		return invalid("from number %q is not an E.164 phone number", s.FromNumber)
	}
	return valid()
}

func (a *SMSAdapter) TransformPayload(event model.Event, _ Meta) ([]byte, error) {
	return json.Marshal(SMSMessage{To: a.settings.Recipients, Body: smsText(Summarize(event))})
}

// smsText renders "icon [SEV] Title: details" bounded to maxSMSLength runes.
// Without details the surfaced fields are listed instead.
func smsText(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", s.Icon, strings.ToUpper(s.Severity), s.Title)
	switch {
	case s.Details != "":
		b.WriteString(": ")
		b.WriteString(s.Details)
	case len(s.Fields) > 0:
		parts := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			parts[i] = f.Name + "=" + f.Value
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return truncate(b.String(), maxSMSLength)
}

func (a *SMSAdapter) Deliver(ctx context.Context, req *Request) model.DeliveryResult {
	start := time.Now()
	result := func(r model.DeliveryResult) model.DeliveryResult {
		r.DeliveryTimeMs = time.Since(start).Milliseconds()
		return r
	}

	var msg SMSMessage
	if err := json.Unmarshal(req.Body, &msg); err != nil {
		return result(configFailure(fmt.Sprintf("decode sms payload: %v", err)))
	}
	if a.provider == nil {
		return result(configFailure("sms delivery is not configured"))
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var (
		sent     []string
		failures []string
		lastCode int
		lastKind = model.FailureNetwork
	)
	for _, to := range msg.To {
		receipt, err := a.provider.Send(ctx, to, msg.Body)
		if receipt.StatusCode != 0 {
			lastCode = receipt.StatusCode
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", to, err))
			lastKind = smsFailure(ctx, receipt, err)
			continue
		}
		sent = append(sent, receipt.ID)
	}

	r := model.DeliveryResult{
		ResponseBody: fmt.Sprintf("sent %d of %d", len(sent), len(msg.To)),
		Error:        strings.Join(failures, "; "),
	}
	if lastCode != 0 {
		r.StatusCode = &lastCode
	}
	if len(sent) > 0 {
		r.Success = true
		return result(r)
	}
	if len(msg.To) == 0 {
		return result(configFailure("no recipients"))
	}
	r.Failure = lastKind
	return result(r)
}

func (a *SMSAdapter) Test(ctx context.Context) model.DeliveryResult {
	return a.runTest(ctx, a)
}

func smsFailure(ctx context.Context, receipt SMSReceipt, err error) model.FailureKind {
	if receipt.StatusCode != 0 {
		return model.ClassifyStatus(receipt.StatusCode)
	}
	return classifyTransportError(ctx, err)
}
