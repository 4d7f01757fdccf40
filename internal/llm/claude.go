package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
)

const DefaultClaudeModel = "claude-sonnet-4-5"

// Claude pricing (per million tokens)
const (
	claudeInputPricePerMillion  = 3.00
	claudeOutputPricePerMillion = 15.00
)

// ClaudeClient sends one photo and one prompt to the Anthropic Messages API
// per call.
type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

// NewClaudeClient creates a client for the Anthropic API. An empty model uses
// DefaultClaudeModel.
func NewClaudeClient(cfg Config) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is empty: %w", nutrition.ErrAuth)
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeClient{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  model,
	}, nil
}

// Model returns the model name requests are sent to.
func (c *ClaudeClient) Model() string {
	return c.model
}

// Invoke implements estimate.InferenceClient.
func (c *ClaudeClient) Invoke(ctx context.Context, prompt string, image nutrition.Image) (string, error) {
	source := anthropic.MessageContentSource{
		Type:      anthropic.MessagesContentSourceTypeBase64,
		MediaType: normaliseMIME(image.MIMEType),
		Data:      base64.StdEncoding.EncodeToString(image.Data),
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		// A single sample is a small JSON object
		MaxTokens: 1024,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(source),
				anthropic.NewTextMessageContent(prompt),
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", classifyClaudeError(err))
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText {
			text = block.GetText()
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text response from Claude: %w", nutrition.ErrService)
	}

	usage := Usage{
		InputTokens:  int64(resp.Usage.InputTokens),
		OutputTokens: int64(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	usage.CostUSD = calculateCost(usage.InputTokens, usage.OutputTokens, claudeInputPricePerMillion, claudeOutputPricePerMillion)

	log.Info().
		Str("model", c.model).
		Int("imageBytes", len(image.Data)).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("vision llm call")

	return text, nil
}

func classifyClaudeError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case anthropic.ErrTypeAuthentication, anthropic.ErrTypePermission:
			return fmt.Errorf("%w: %s", nutrition.ErrAuth, apiErr.Message)
		default:
			return fmt.Errorf("%w: %s: %s", nutrition.ErrService, apiErr.Type, apiErr.Message)
		}
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", nutrition.ErrAuth, err)
		default:
			return fmt.Errorf("%w: %w", nutrition.ErrService, err)
		}
	}

	return classifyTransportError(err)
}

// normaliseMIME maps image types to the ones the Messages API accepts.
// Anything else is sent as jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
