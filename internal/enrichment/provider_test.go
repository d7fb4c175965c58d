package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
)

func testEnrichmentSettings(provider string) *conf.EnrichmentSettings {
	return &conf.EnrichmentSettings{
		Enabled:     true,
		Provider:    provider,
		Timeout:     5 * time.Second,
		Temperature: 0.2,
		Gemini: conf.GeminiSettings{
			APIKey: "test-key",
			Model:  "gemini-2.0-flash",
		},
		Ollama: conf.OllamaSettings{
			Host:  "http://localhost:11434",
			Model: "llava",
		},
	}
}

func TestNewProviderSelection(t *testing.T) {
	p, err := NewProvider(testEnrichmentSettings("gemini"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = NewProvider(testEnrichmentSettings("ollama"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = NewProvider(testEnrichmentSettings("gpt-sideways"))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	settings := testEnrichmentSettings("gemini")
	settings.Gemini.APIKey = ""
	_, err := NewGeminiProvider(settings)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestGeminiGenerateSuccess(t *testing.T) {
	p, err := NewGeminiProvider(testEnrichmentSettings("gemini"))
	require.NoError(t, err)

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", `=~^https://generativelanguage\.googleapis\.com/v1beta/models/gemini-2\.0-flash:generateContent`,
		func(req *http.Request) (*http.Response, error) {
			var payload geminiRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			require.Len(t, payload.Contents, 1)

			parts := payload.Contents[0].Parts
			require.Len(t, parts, 2, "image part plus text part")
			assert.Equal(t, "image/jpeg", parts[0].InlineData.MimeType)
			assert.NotEmpty(t, parts[0].InlineData.Data)
			assert.Contains(t, parts[1].Text, "traffic incident analyst")

			return httpmock.NewStringResponse(http.StatusOK, `{
				"candidates": [{"content": {"parts": [{"text": "A severe "}, {"text": "collision."}]}}]
			}`), nil
		})

	out, err := p.Generate(context.Background(), Request{
		Prompt: scenePrompt(testEventContext()),
		Image:  []byte{0xFF, 0xD8, 0xFF, 0xD9},
	})
	require.NoError(t, err)
	assert.Equal(t, "A severe collision.", out)
}

func TestGeminiGenerateJSONMode(t *testing.T) {
	p, err := NewGeminiProvider(testEnrichmentSettings("gemini"))
	require.NoError(t, err)

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", `=~^https://generativelanguage\.googleapis\.com/`,
		func(req *http.Request) (*http.Response, error) {
			var payload geminiRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
			return httpmock.NewStringResponse(http.StatusOK, `{
				"candidates": [{"content": {"parts": [{"text": "{\"accident_severity\": \"minor\"}"}]}}]
			}`), nil
		})

	out, err := p.Generate(context.Background(), Request{Prompt: "x", ExpectJSON: true})
	require.NoError(t, err)

	findings, err := ParseStructured(out)
	require.NoError(t, err)
	assert.Equal(t, "minor", findings["accident_severity"])
}

func TestGeminiGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
	}{
		{"server_error", http.StatusInternalServerError, `{"error": "boom"}`, errors.CategoryEnrichment},
		{"rate_limited", http.StatusTooManyRequests, `{"error": "quota"}`, errors.CategoryEnrichment},
		{"no_candidates", http.StatusOK, `{"candidates": []}`, errors.CategoryEnrichment},
		{"not_json", http.StatusOK, `<html>`, errors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewGeminiProvider(testEnrichmentSettings("gemini"))
			require.NoError(t, err)

			httpmock.ActivateNonDefault(p.client)
			defer httpmock.DeactivateAndReset()
			httpmock.RegisterResponder("POST", `=~^https://generativelanguage\.googleapis\.com/`,
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err = p.Generate(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.category, errors.CategoryOf(err))
		})
	}
}

func TestOllamaGenerateSuccess(t *testing.T) {
	p := NewOllamaProvider(testEnrichmentSettings("ollama"))

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://localhost:11434/api/generate",
		func(req *http.Request) (*http.Response, error) {
			var payload ollamaRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "llava", payload.Model)
			assert.False(t, payload.Stream)
			assert.Equal(t, "json", payload.Format)
			require.Len(t, payload.Images, 1)

			return httpmock.NewStringResponse(http.StatusOK, `{"response": "{\"road_conditions\": \"wet\"}"}`), nil
		})

	out, err := p.Generate(context.Background(), Request{
		Prompt:     "x",
		Image:      []byte{0xFF, 0xD8, 0xFF, 0xD9},
		ExpectJSON: true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"road_conditions": "wet"}`, out)
}

func TestOllamaMemoryErrorNotRetryable(t *testing.T) {
	p := NewOllamaProvider(testEnrichmentSettings("ollama"))

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "http://localhost:11434/api/generate",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model requires more system memory"))

	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.False(t, retryable(err))
}

func TestOllamaServerErrorRetryable(t *testing.T) {
	p := NewOllamaProvider(testEnrichmentSettings("ollama"))

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "http://localhost:11434/api/generate",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model not loaded"))

	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, retryable(err))
}

func TestOllamaCheckAvailability(t *testing.T) {
	p := NewOllamaProvider(testEnrichmentSettings("ollama"))

	httpmock.ActivateNonDefault(p.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://localhost:11434/api/version",
		httpmock.NewStringResponder(http.StatusOK, `{"version": "0.6.0"}`))
	assert.NoError(t, p.CheckAvailability(context.Background()))

	httpmock.Reset()
	httpmock.RegisterResponder("GET", "http://localhost:11434/api/version",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	assert.Error(t, p.CheckAvailability(context.Background()))
}
