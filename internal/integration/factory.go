package integration

import (
	"fmt"
	"net/http"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

// Deps are the shared collaborators handed to every adapter.
type Deps struct {
	HTTPClient    HTTPDoer
	Mailer        Mailer
	SMSProvider   func(SMSSettings) SMSProvider
	Signer        *signing.Signer
	Clock         func() time.Time
	ResponseLimit int64
}

// Factory selects the adapter variant for a destination's integration type.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.Signer == nil {
		deps.Signer = signing.NewSigner()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.ResponseLimit <= 0 {
		deps.ResponseLimit = DefaultBodyLimit
	}
	if deps.SMSProvider == nil {
		client := deps.HTTPClient
		deps.SMSProvider = func(s SMSSettings) SMSProvider {
			return NewTwilioProvider(DefaultTwilioBaseURL, s, client)
		}
	}
	return &Factory{deps: deps}
}

func (f *Factory) Signer() *signing.Signer {
	return f.deps.Signer
}

// Create returns the adapter for dest. Unknown integration types are reported
// as ErrUnsupportedIntegration.
func (f *Factory) Create(dest *model.Destination) (Adapter, error) {
	d := f.deps
	switch dest.IntegrationType {
	case model.IntegrationCustomWebhook:
		return NewWebhookAdapter(dest, d.Signer, d.HTTPClient, d.ResponseLimit, d.Clock), nil
	case model.IntegrationSlack, model.IntegrationMicrosoftTeams, model.IntegrationDiscord:
		return NewChatAdapter(dest.IntegrationType, dest, d.Signer, d.HTTPClient, d.ResponseLimit, d.Clock), nil
	case model.IntegrationEmail:
		return NewEmailAdapter(dest, d.Signer, d.Mailer, d.Clock), nil
	case model.IntegrationSMS:
		return NewSMSAdapter(dest, d.Signer, d.SMSProvider, d.Clock), nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedIntegration, dest.IntegrationType)
	}
}

// Check runs the integration-independent validation followed by the
// adapter's own config check.
func (f *Factory) Check(dest *model.Destination) ValidationResult {
	if err := dest.Validate(); err != nil {
		return ValidationResult{Error: err.Error()}
	}
	a, err := f.Create(dest)
	if err != nil {
		return ValidationResult{Error: err.Error()}
	}
	return a.ValidateConfig()
}

// Descriptor documents the config an integration type expects. It is served
// to configuration front-ends and never consulted on the delivery path.
type Descriptor struct {
	Type           model.IntegrationType `json:"type" yaml:"type"`
	Name           string                `json:"name" yaml:"name"`
	RequiredFields []string              `json:"required_fields" yaml:"required_fields"`
	OptionalFields []string              `json:"optional_fields" yaml:"optional_fields"`
	AuthTypes      []model.AuthType      `json:"auth_types" yaml:"auth_types"`
}

var allAuth = []model.AuthType{model.AuthNone, model.AuthAPIKey, model.AuthBearerToken, model.AuthHMACSHA256}

var descriptors = []Descriptor{
	{
		Type:           model.IntegrationCustomWebhook,
		Name:           "Custom Webhook",
		RequiredFields: []string{"url"},
		OptionalFields: []string{"custom_headers", "payload_template", "transform_script", "timeout_seconds", "retry_count"},
		AuthTypes:      allAuth,
	},
	{
		Type:           model.IntegrationSlack,
		Name:           "Slack",
		RequiredFields: []string{"url", "settings.channel"},
		OptionalFields: []string{"settings.username", "settings.icon_emoji"},
		AuthTypes:      []model.AuthType{model.AuthNone},
	},
	{
		Type:           model.IntegrationMicrosoftTeams,
		Name:           "Microsoft Teams",
		RequiredFields: []string{"url", "settings.channel"},
		OptionalFields: []string{"settings.username"},
		AuthTypes:      []model.AuthType{model.AuthNone},
	},
	{
		Type:           model.IntegrationDiscord,
		Name:           "Discord",
		RequiredFields: []string{"url", "settings.channel"},
		OptionalFields: []string{"settings.username"},
		AuthTypes:      []model.AuthType{model.AuthNone},
	},
	{
		Type:           model.IntegrationEmail,
		Name:           "Email",
		RequiredFields: []string{"settings.to"},
		OptionalFields: []string{"settings.cc", "settings.bcc", "settings.from", "settings.subject_prefix"},
		AuthTypes:      []model.AuthType{model.AuthNone},
	},
	{
		Type:           model.IntegrationSMS,
		Name:           "SMS",
		RequiredFields: []string{"settings.recipients", "settings.account_sid", "settings.auth_token", "settings.from_number"},
		OptionalFields: []string{"settings.provider"},
		AuthTypes:      []model.AuthType{model.AuthNone},
	},
}

func SupportedIntegrations() []model.IntegrationType {
	out := make([]model.IntegrationType, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Type
	}
	return out
}

func Describe(t model.IntegrationType) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Type == t {
			return d, true
		}
	}
	return Descriptor{}, false
}

func Descriptors() []Descriptor {
	return append([]Descriptor(nil), descriptors...)
}
