package ai

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Gemini talks to a generate-content endpoint.
type Gemini struct {
	client   *http.Client
	settings GenerationSettings
}

// NewGemini creates a generate-content provider.
func NewGemini(client *http.Client, settings GenerationSettings) *Gemini {
	return &Gemini{client: client, settings: settings}
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Generate implements Provider.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: systemPrompt + "\n\n" + prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.settings.Temperature,
			MaxOutputTokens: g.settings.MaxTokens,
		},
	}

	var resp geminiResponse
	endpoint := strings.TrimSuffix(g.settings.BaseURL, "/") + "/models/" + url.PathEscape(g.settings.Model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": g.settings.APIKey}
	if err := postJSON(ctx, g.client, g.Name(), endpoint, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &ProviderError{Provider: g.Name(), Message: "response contained no candidates"}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
