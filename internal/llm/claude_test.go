package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClaudeServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClaudeClient_Invoke(t *testing.T) {
	var seen map[string]any
	srv := newClaudeServer(t, http.StatusOK, `{
		"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "{\"foodName\":\"牛肉麵\"}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 1500, "output_tokens": 90}
	}`, &seen)

	client, err := NewClaudeClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	raw, err := client.Invoke(context.Background(), "describe the food", nutrition.Image{Data: []byte("png"), MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, `{"foodName":"牛肉麵"}`, raw)

	assert.Equal(t, DefaultClaudeModel, seen["model"])
	messages := seen["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["source"].(map[string]any)["media_type"])
	assert.Equal(t, "describe the food", content[1].(map[string]any)["text"])
}

func TestClaudeClient_AuthFailure(t *testing.T) {
	srv := newClaudeServer(t, http.StatusUnauthorized,
		`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`, nil)

	client, err := NewClaudeClient(Config{APIKey: "bad", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, nutrition.ErrAuth)
}

func TestClaudeClient_Overloaded(t *testing.T) {
	srv := newClaudeServer(t, 529,
		`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`, nil)

	client, err := NewClaudeClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	assert.ErrorIs(t, err, nutrition.ErrService)
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/webp", normaliseMIME("image/webp"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/heic"))
	assert.Equal(t, "image/jpeg", normaliseMIME(""))
}
