package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioProvider sends SMS through the Twilio Messages REST API.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     HTTPDoer
}

func NewTwilioProvider(baseURL string, settings SMSSettings, client HTTPDoer) *TwilioProvider {
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	return &TwilioProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: strings.TrimSpace(settings.AccountSID),
		authToken:  strings.TrimSpace(settings.AuthToken),
		from:       settings.FromNumber,
		client:     client,
	}
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (p *TwilioProvider) Send(ctx context.Context, to, body string) (SMSReceipt, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SMSReceipt{}, fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return SMSReceipt{}, fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, DefaultBodyLimit))
	receipt := SMSReceipt{StatusCode: resp.StatusCode, Body: string(raw)}

	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)
	receipt.ID = msg.SID

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg.Message != "" {
			return receipt, fmt.Errorf("twilio: HTTP %d: %s", resp.StatusCode, msg.Message)
		}
		return receipt, fmt.Errorf("twilio: HTTP %d", resp.StatusCode)
	}
	return receipt, nil
}
