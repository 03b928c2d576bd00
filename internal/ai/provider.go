package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ttsync/internal/config"
)

// ErrNoProvider is returned when neither an OpenAI nor a Gemini key is configured.
var ErrNoProvider = errors.New("no AI key configured")

// Provider sends a single prompt to a language model and returns its text reply.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationSettings are shared by both provider implementations.
type GenerationSettings struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// NewProvider picks the provider whose key is present, OpenAI first.
// A nil client gets one with the configured timeout.
func NewProvider(cfg config.AI, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.Timeout)}
	}
	switch {
	case cfg.OpenAIKey != "":
		return NewOpenAI(client, GenerationSettings{
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	case cfg.GeminiKey != "":
		return NewGemini(client, GenerationSettings{
			Model:       cfg.GeminiModel,
			BaseURL:     cfg.GeminiBaseURL,
			APIKey:      cfg.GeminiKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	default:
		return nil, ErrNoProvider
	}
}

// ProviderError represents a non-2xx or unusable response from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}
