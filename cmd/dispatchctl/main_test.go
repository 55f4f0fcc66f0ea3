package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachbroad/webhook-dispatch/internal/signing"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIntegrations(t *testing.T) {
	out, err := run(t, "", "integrations")
	require.NoError(t, err)
	for _, typ := range []string{"custom_webhook", "slack", "microsoft_teams", "discord", "email", "sms"} {
		assert.Contains(t, out, typ)
	}

	out, err = run(t, "", "integrations", "email", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "type: email")
	assert.NotContains(t, out, "type: sms")

	_, err = run(t, "", "integrations", "pager")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeFile(t, "dests.yaml", `
destinations:
  - name: ops hook
    url: https://example.com/hook
    event_types: ["document.*"]
    auth_type: hmac_sha256
    auth_config:
      secret: 0123456789abcdef0123
  - name: ops slack
    integration_type: slack
    url: https://hooks.slack.com/services/T000/B000/XXXX
    settings:
      channel: "#ops"
`)
	out, err := run(t, "", "validate", "-f", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok       ops hook (custom_webhook)")
	assert.Contains(t, out, "ok       ops slack (slack)")

	bad := writeFile(t, "bad.yaml", `
destinations:
  - name: pager
    integration_type: sms
    settings:
      recipients: ["555-0100"]
`)
	out, err = run(t, "", "validate", "-f", bad)
	assert.Error(t, err)
	assert.Contains(t, out, "invalid  pager (sms)")

	empty := writeFile(t, "empty.yaml", "destinations: []\n")
	_, err = run(t, "", "validate", "-f", empty)
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	payload := `{"event":{"id":"doc_1"}}`
	secret := "0123456789abcdef0123"

	out, err := run(t, payload, "sign", "--secret", secret)
	require.NoError(t, err)
	sig := strings.TrimSpace(out)
	assert.Equal(t, signing.Sign([]byte(payload), secret), sig)

	out, err = run(t, payload, "verify", "--secret", secret, "--signature", sig)
	require.NoError(t, err)
	assert.Contains(t, out, "signature ok")

	_, err = run(t, payload+" ", "verify", "--secret", secret, "--signature", sig)
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "", "token", "--org", "org_1")
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "local-dev-secret-value")
	out, err := run(t, "", "token", "--org", "org_1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}
