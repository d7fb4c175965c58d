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

const ollamaAvailabilityTimeout = 3 * time.Second

// OllamaProvider talks to a local Ollama server's generate API.
type OllamaProvider struct {
	host        string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

// NewOllamaProvider builds the local provider from settings.
func NewOllamaProvider(settings *conf.EnrichmentSettings) *OllamaProvider {
	return &OllamaProvider{
		host:        strings.TrimRight(settings.Ollama.Host, "/"),
		model:       settings.Ollama.Model,
		temperature: settings.Temperature,
		client:      &http.Client{Timeout: settings.Timeout},
		logger:      logging.ForService("ollama"),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// CheckAvailability probes the server's version endpoint.
func (p *OllamaProvider) CheckAvailability(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaAvailabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.host+"/api/version", http.NoBody)
	if err != nil {
		return errors.New(err).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("operation", "create_version_request").
			Build()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("operation", "ollama_version_probe").
			Context("host", p.host).
			Build()
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("ollama version probe returned status %d", resp.StatusCode).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("host", p.host).
			Build()
	}
	return nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
	Images  []string       `json:"images,omitempty"`
	Format  string         `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Generate performs one non-streaming generate call.
func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	payload := ollamaRequest{
		Model:   p.model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: map[string]any{"temperature": p.temperature},
	}
	if len(req.Image) > 0 {
		payload.Images = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}
	if req.ExpectJSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "marshal_ollama_request").
			Build()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryNetwork).
			Context("operation", "create_generate_request").
			Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return "", errors.New(err).
			Component("enrichment").
			Category(category).
			Context("operation", "ollama_generate").
			Context("model", p.model).
			Build()
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
			Context("operation", "read_ollama_response").
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		preview := truncateBodyPreview(string(respBody))
		// a 500 mentioning memory means the model does not fit in RAM,
		// retrying will not help
		if resp.StatusCode == http.StatusInternalServerError && strings.Contains(strings.ToLower(preview), "memory") {
			p.logger.Error("ollama model exceeds available memory", "model", p.model, "response_body", preview)
			return "", errors.Newf("ollama model requires more system memory than available: %s", preview).
				Component("enrichment").
				Category(errors.CategoryEnrichment).
				Context("operation", "ollama_generate").
				Context("fatal", "true").
				Build()
		}
		p.logger.Warn("ollama request failed",
			"status_code", resp.StatusCode,
			"model", p.model,
			"response_body", preview)
		return "", errors.Newf("ollama returned status %d", resp.StatusCode).
			Component("enrichment").
			Category(errors.CategoryEnrichment).
			Context("operation", "ollama_generate").
			Context("status_code", fmt.Sprintf("%d", resp.StatusCode)).
			Build()
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errors.New(err).
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "unmarshal_ollama_response").
			Build()
	}

	p.logger.Debug("ollama generation complete",
		"model", p.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(parsed.Response))
	return strings.TrimSpace(parsed.Response), nil
}
