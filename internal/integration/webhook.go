package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/script"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

// envelope is the default Custom-HTTP body.
type envelope struct {
	Event    eventBody    `json:"event"`
	Webhook  webhookBody  `json:"webhook"`
	Delivery deliveryBody `json:"delivery"`
}

type eventBody struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type webhookBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type deliveryBody struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
}

func newEnvelope(dest *model.Destination, event model.Event, meta Meta) envelope {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	return envelope{
		Event: eventBody{
			ID:        event.ID,
			Type:      event.Type,
			Timestamp: event.Timestamp.UTC(),
			Data:      data,
		},
		Webhook:  webhookBody{ID: dest.ID.String(), Name: dest.Name},
		Delivery: deliveryBody{ID: meta.DeliveryID.String(), Attempt: meta.Attempt},
	}
}

// WebhookAdapter posts a JSON envelope to an arbitrary HTTP endpoint. The
// body may be reshaped by a payload template and then by a transform script.
type WebhookAdapter struct {
	base
	client    HTTPDoer
	bodyLimit int64
}

func NewWebhookAdapter(dest *model.Destination, signer *signing.Signer, client HTTPDoer, bodyLimit int64, now func() time.Time) *WebhookAdapter {
	return &WebhookAdapter{
		base:      base{dest: dest, signer: signer, now: now},
		client:    client,
		bodyLimit: bodyLimit,
	}
}

func (a *WebhookAdapter) Type() model.IntegrationType {
	return model.IntegrationCustomWebhook
}

func (a *WebhookAdapter) ValidateConfig() ValidationResult {
	if err := validateHTTPURL(a.dest.URL); err != nil {
		return invalid("%v", err)
	}
	if err := signing.ValidateAuth(a.dest.AuthType, a.dest.AuthConfig); err != nil {
		return invalid("%v", err)
	}
	if err := validateHeaders(a.dest.CustomHeaders); err != nil {
		return invalid("%v", err)
	}
	if len(a.dest.PayloadTemplate) > 0 {
		var tmpl map[string]any
		if err := json.Unmarshal(a.dest.PayloadTemplate, &tmpl); err != nil {
			return invalid("payload template must be a JSON object: %v", err)
		}
	}
	if a.dest.TransformScript != nil && *a.dest.TransformScript != "" {
		if err := script.Validate(*a.dest.TransformScript); err != nil {
			return invalid("transform script: %v", err)
		}
	}
	return valid()
}

func (a *WebhookAdapter) TransformPayload(event model.Event, meta Meta) ([]byte, error) {
	env := newEnvelope(a.dest, event, meta)

	var payload any = env
	if len(a.dest.PayloadTemplate) > 0 {
		vars, err := toVars(env)
		if err != nil {
			return nil, fmt.Errorf("build template context: %w", err)
		}
		if payload, err = RenderTemplate(a.dest.PayloadTemplate, vars); err != nil {
			return nil, err
		}
	}

	if a.dest.TransformScript != nil && *a.dest.TransformScript != "" {
		obj, err := toObject(payload)
		if err != nil {
			return nil, fmt.Errorf("prepare script input: %w", err)
		}
		scriptCtx := map[string]any{
			"eventType":   event.Type,
			"category":    event.Category(),
			"destination": a.dest.Name,
			"attempt":     meta.Attempt,
		}
		if payload, err = script.Transform(*a.dest.TransformScript, obj, scriptCtx); err != nil {
			return nil, err
		}
	}

	return json.Marshal(payload)
}

func (a *WebhookAdapter) Deliver(ctx context.Context, req *Request) model.DeliveryResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return postJSON(ctx, a.client, a.dest.URL, req, a.bodyLimit)
}

func (a *WebhookAdapter) Test(ctx context.Context) model.DeliveryResult {
	return a.runTest(ctx, a)
}
