package ai

import (
	"context"
	"net/http"
	"strings"
)

const systemPrompt = "You are a precise timetable extraction assistant. Always respond with valid JSON only."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAI talks to a chat-completion endpoint.
type OpenAI struct {
	client   *http.Client
	settings GenerationSettings
}

// NewOpenAI creates a chat-completion provider.
func NewOpenAI(client *http.Client, settings GenerationSettings) *OpenAI {
	return &OpenAI{client: client, settings: settings}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Generate implements Provider.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: o.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: o.settings.Temperature,
		MaxTokens:   o.settings.MaxTokens,
	}

	var resp chatResponse
	url := strings.TrimSuffix(o.settings.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + o.settings.APIKey}
	if err := postJSON(ctx, o.client, o.Name(), url, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: o.Name(), Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}
