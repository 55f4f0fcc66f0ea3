package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zachbroad/webhook-dispatch/internal/model"
)

const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	HeaderSignature     = "X-Webhook-Signature-256"
)

// Signer attaches outbound credentials to a transformed payload.
type Signer struct{}

func NewSigner() *Signer {
	return &Signer{}
}

// Headers returns the authentication headers for body. The HMAC variant signs
// the exact bytes that will be sent.
func (s *Signer) Headers(authType model.AuthType, cfg model.AuthConfig, body []byte) (map[string]string, error) {
	if err := ValidateAuth(authType, cfg); err != nil {
		return nil, err
	}
	switch authType {
	case "", model.AuthNone:
		return map[string]string{}, nil
	case model.AuthAPIKey:
		return map[string]string{HeaderAPIKey: cfg.APIKey}, nil
	case model.AuthBearerToken:
		return map[string]string{HeaderAuthorization: "Bearer " + cfg.Token}, nil
	default:
		return map[string]string{HeaderSignature: Sign(body, cfg.Secret)}, nil
	}
}

// ValidateAuth checks that cfg carries what authType needs.
func ValidateAuth(authType model.AuthType, cfg model.AuthConfig) error {
	switch authType {
	case "", model.AuthNone:
		return nil
	case model.AuthAPIKey:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return fmt.Errorf("%w: api_key auth requires an api key", model.ErrConfiguration)
		}
	case model.AuthBearerToken:
		if strings.TrimSpace(cfg.Token) == "" {
			return fmt.Errorf("%w: bearer_token auth requires a token", model.ErrConfiguration)
		}
	case model.AuthHMACSHA256:
		if len(cfg.Secret) < 16 {
			return fmt.Errorf("%w: hmac_sha256 auth requires a secret of at least 16 characters", model.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown auth type %q", model.ErrConfiguration, authType)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload prefixed with "sha256=".
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify is the receiver-side check for a signature produced by Sign.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
