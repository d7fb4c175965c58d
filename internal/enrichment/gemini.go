package enrichment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/models"
	maxBodyPreviewSize = 200
)

// GeminiProvider talks to the Google Gemini generateContent API.
type GeminiProvider struct {
	apiKey      string
	model       string
	temperature float64
	baseURL     string
	client      *http.Client
	logger      *slog.Logger
}

// NewGeminiProvider builds the cloud provider from settings. The API key
// comes from GEMINI_API_KEY and is required.
func NewGeminiProvider(settings *conf.EnrichmentSettings) (*GeminiProvider, error) {
	if settings.Gemini.APIKey == "" {
		return nil, errors.Newf("GEMINI_API_KEY is not set").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Context("provider", "gemini").
			Build()
	}
	return &GeminiProvider{
		apiKey:      settings.Gemini.APIKey,
		model:       settings.Gemini.Model,
		temperature: settings.Temperature,
		baseURL:     geminiBaseURL,
		client:      &http.Client{Timeout: settings.Timeout},
		logger:      logging.ForService("gemini"),
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// CheckAvailability reports whether the provider is usable. The Gemini API
// needs no probe request; a configured key is the availability criterion.
func (p *GeminiProvider) CheckAvailability(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.Newf("gemini API key not configured").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate performs one generateContent call. Images ride inline as base64
// JPEG parts ahead of the prompt text.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	parts := make([]geminiPart, 0, 2)
	if len(req.Image) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	payload := geminiRequest{
		Contents:         []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{Temperature: p.temperature},
	}
	if req.ExpectJSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "marshal_gemini_request").
			Build()
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("operation", "create_gemini_request").
			Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", p.requestError(ctx, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("operation", "read_gemini_response").
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("gemini request failed",
			"status_code", resp.StatusCode,
			"model", p.model,
			"response_body", truncateBodyPreview(string(respBody)))
		return "", errors.Newf("gemini returned status %d", resp.StatusCode).
			Component("enrichment").
			Category(errors.CategoryEnrichment).
			Context("operation", "gemini_generate").
			Context("status_code", fmt.Sprintf("%d", resp.StatusCode)).
			Build()
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "unmarshal_gemini_response").
			Build()
	}
	if len(parsed.Candidates) == 0 {
		return "", errors.Newf("no candidates in gemini response").
			Component("enrichment").
			Category(errors.CategoryEnrichment).
			Context("operation", "gemini_generate").
			Build()
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	p.logger.Debug("gemini generation complete",
		"model", p.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", text.Len())
	return strings.TrimSpace(text.String()), nil
}

func (p *GeminiProvider) requestError(ctx context.Context, err error) error {
	category := errors.CategoryNetwork
	if ctx.Err() != nil {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("enrichment").
		Category(category).
		Context("operation", "gemini_generate").
		Context("model", p.model).
		Build()
}

func truncateBodyPreview(body string) string {
	if len(body) > maxBodyPreviewSize {
		return body[:maxBodyPreviewSize] + "... (truncated)"
	}
	return body
}
