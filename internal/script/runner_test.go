package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		ok      bool
	}{
		{name: "valid", body: `function transform(payload, meta) { return payload; }`, ok: true},
		{name: "arrow function", body: `var transform = (p) => ({ wrapped: p });`, ok: true},
		{name: "syntax error", body: `function transform(payload { return payload; }`},
		{name: "missing transform", body: `function process(payload) { return payload; }`, wantErr: ErrNoTransform},
		{name: "not a function", body: `var transform = 42;`, wantErr: ErrNoTransform},
		{name: "too large", body: "function transform(p) { return p; }//" + strings.Repeat("x", maxScriptSize), wantErr: ErrScriptTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.body)
			switch {
			case tc.ok:
				assert.NoError(t, err)
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestTransformSeesPayloadAndMeta(t *testing.T) {
	body := `function transform(payload, meta) {
		payload.source = "hr-assistant";
		payload.attempt = meta.attempt;
		return payload;
	}`

	result, err := Transform(body,
		map[string]any{"event": map[string]any{"type": "chat.session.started"}},
		map[string]any{"attempt": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, "hr-assistant", result["source"])
	assert.EqualValues(t, 2, result["attempt"])

	event, ok := result["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat.session.started", event["type"])
}

func TestTransformReshapesPayload(t *testing.T) {
	body := `function transform(p) {
		return { text: p.event.type + " for " + p.event.data.document_id, tags: ["doc"] };
	}`
	payload := map[string]any{
		"event": map[string]any{
			"type": "document.processing.failed",
			"data": map[string]any{"document_id": "doc_1"},
		},
	}

	result, err := Transform(body, payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "document.processing.failed for doc_1", result["text"])
	assert.Equal(t, []any{"doc"}, result["tags"])
}

func TestTransformRejectsNonObjects(t *testing.T) {
	for _, ret := range []string{"null", "undefined", `"text"`, "[1, 2]", "7"} {
		t.Run(ret, func(t *testing.T) {
			_, err := Transform(`function transform(p) { return `+ret+`; }`, map[string]any{}, nil)
			assert.ErrorIs(t, err, ErrNoPayload)
		})
	}
}

func TestTransformErrors(t *testing.T) {
	_, err := Transform(`function transform(p) { while (true) {} }`, map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrScriptTimeout)

	_, err = Transform(`function transform(p) { throw new Error("boom"); }`, map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = Transform(`function transform(p { return p; }`, map[string]any{}, nil)
	assert.Error(t, err)
}
