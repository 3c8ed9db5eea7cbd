// Package llm wraps the hosted chat-completion APIs used for slot extraction
// and document structuring behind one small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotConfigured is returned when a provider is selected without an API key.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Request is a single-shot completion: one system prompt, one user message.
type Request struct {
	System string
	Prompt string
	// JSON asks the model to answer with a single JSON object.
	JSON      bool
	MaxTokens int64
	// Temperature is passed through as is; zero keeps answers deterministic.
	Temperature float64
}

// Client completes prompts against a hosted model.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	// MaxRetries of zero disables SDK retries; negative keeps the SDK default.
	MaxRetries int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New returns the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, cfg.Provider)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// StripFences removes a surrounding markdown code fence, which some models
// add around JSON even when told not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
