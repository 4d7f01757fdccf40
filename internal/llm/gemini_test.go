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

var testImage = nutrition.Image{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, MIMEType: "image/jpeg"}

func newGeminiServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
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

func TestGeminiClient_Invoke(t *testing.T) {
	var seen map[string]any
	srv := newGeminiServer(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"foodName\":\"炒飯\"}"}]}}],
		"usageMetadata": {"promptTokenCount": 1200, "candidatesTokenCount": 80, "totalTokenCount": 1280}
	}`, &seen)

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiModel, client.Model())

	raw, err := client.Invoke(context.Background(), "describe the food", testImage)
	require.NoError(t, err)
	assert.Equal(t, `{"foodName":"炒飯"}`, raw)

	contents, ok := seen["contents"].([]any)
	require.True(t, ok, "request must carry contents")
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "describe the food", parts[0].(map[string]any)["text"])
	assert.Contains(t, parts[1].(map[string]any), "inlineData")
}

func TestGeminiClient_AuthFailure(t *testing.T) {
	srv := newGeminiServer(t, http.StatusForbidden,
		`{"error": {"code": 403, "message": "Permission denied", "status": "PERMISSION_DENIED"}}`, nil)

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, nutrition.ErrAuth)
}

func TestGeminiClient_InvalidKeyIsAuth(t *testing.T) {
	srv := newGeminiServer(t, http.StatusBadRequest,
		`{"error": {"code": 400, "message": "API key not valid. Please pass a valid API key.", "status": "INVALID_ARGUMENT"}}`, nil)

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	assert.ErrorIs(t, err, nutrition.ErrAuth)
}

func TestGeminiClient_BadRequestIsService(t *testing.T) {
	srv := newGeminiServer(t, http.StatusBadRequest,
		`{"error": {"code": 400, "message": "Unsupported MIME type", "status": "INVALID_ARGUMENT"}}`, nil)

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	assert.ErrorIs(t, err, nutrition.ErrService)
	assert.NotErrorIs(t, err, nutrition.ErrAuth)
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, `{"candidates": []}`, nil)

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "p", testImage)
	assert.ErrorIs(t, err, nutrition.ErrService)
}

func TestNewGeminiClient_EmptyKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Config{})
	assert.ErrorIs(t, err, nutrition.ErrAuth)
}
