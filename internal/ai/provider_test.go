package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsync/internal/config"
)

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.InDelta(t, 0.1, req.Temperature, 1e-9)
		assert.Equal(t, 4000, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"events\":[]}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(srv.Client(), GenerationSettings{
		Model: "gpt-test", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Temperature: 0.1, MaxTokens: 4000,
	})
	out, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"events":[]}`, out)
}

func TestOpenAI_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(srv.Client(), GenerationSettings{Model: "m", BaseURL: srv.URL, APIKey: "bad"})
	_, err := p.Generate(context.Background(), "hello")
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "openai", perr.Provider)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, "Incorrect API key provided", perr.Message)
}

func TestOpenAI_StatusTextWhenNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOpenAI(srv.Client(), GenerationSettings{Model: "m", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), "hello")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Bad Gateway", perr.Message)
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(srv.Client(), GenerationSettings{Model: "m", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), "hello")
	require.Error(t, err)
}

func TestGemini_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 1)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "hello")
		assert.Equal(t, 2000, req.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"events\":[]}"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGemini(srv.Client(), GenerationSettings{
		Model: "gemini-test", BaseURL: srv.URL + "/v1beta", APIKey: "g-key", MaxTokens: 2000,
	})
	out, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"events":[]}`, out)
}

func TestGemini_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	p := NewGemini(srv.Client(), GenerationSettings{Model: "m", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), "hello")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "gemini", perr.Provider)
	assert.Equal(t, "API key not valid", perr.Message)
}

func TestGenerate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewOpenAI(srv.Client(), GenerationSettings{Model: "m", BaseURL: srv.URL})
	_, err := p.Generate(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewProvider_Selection(t *testing.T) {
	cfg := config.DefaultConfig().AI

	_, err := NewProvider(cfg, nil)
	assert.ErrorIs(t, err, ErrNoProvider)

	cfg.GeminiKey = "g"
	p, err := NewProvider(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	cfg.OpenAIKey = "o"
	p, err = NewProvider(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}
