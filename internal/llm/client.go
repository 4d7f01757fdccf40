package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/raine/telegram-nutrition-bot/internal/estimate"
)

// Backend names a vision model provider.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendClaude Backend = "claude"
)

// ParseBackend accepts a backend name case-insensitively. Empty means Gemini.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendGemini:
		return BackendGemini, nil
	case BackendClaude:
		return BackendClaude, nil
	default:
		return "", fmt.Errorf("unknown vision backend %q", s)
	}
}

// Config holds what is needed to build a client for one credential.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // overrides the provider endpoint, used in tests
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// NewClient builds the inference client for backend.
func NewClient(ctx context.Context, backend Backend, cfg Config) (estimate.InferenceClient, error) {
	switch backend {
	case BackendGemini, "":
		return NewGeminiClient(ctx, cfg)
	case BackendClaude:
		return NewClaudeClient(cfg)
	default:
		return nil, fmt.Errorf("unknown vision backend %q", backend)
	}
}

func calculateCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}
