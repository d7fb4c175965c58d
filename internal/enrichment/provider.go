// Package enrichment turns a confirmed accident event into analytical
// products (scene narrative, structured findings, recommendations, incident
// report) by querying a vision-capable language model provider.
package enrichment

import (
	"context"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
)

// ProductKind identifies one analytical product derived from an event.
type ProductKind string

const (
	ProductSceneDescription   ProductKind = "scene_description"
	ProductStructuredFindings ProductKind = "structured_findings"
	ProductRecommendations    ProductKind = "recommendations"
	ProductReport             ProductKind = "report"
)

// EventContext is the incident material handed to prompt builders and
// providers. SceneDescription and Findings are filled in after the first
// analysis stage so later products can build on them.
type EventContext struct {
	EventID   string
	CameraID  string
	Location  string
	Timestamp time.Time
	Score     float64
	Image     []byte // JPEG frame at peak score

	SceneDescription string
	Findings         map[string]any
}

// Request is a single generation call against a provider.
type Request struct {
	Prompt     string
	Image      []byte // optional JPEG attachment
	ExpectJSON bool   // ask the model for a bare JSON object
}

// Provider generates text from a prompt and optional image. Implementations
// perform exactly one attempt per Generate call; retry policy belongs to the
// orchestrator.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	CheckAvailability(ctx context.Context) error
}

// NewProvider builds the configured analysis provider.
func NewProvider(settings *conf.EnrichmentSettings) (Provider, error) {
	switch settings.Provider {
	case "gemini":
		return NewGeminiProvider(settings)
	case "ollama":
		return NewOllamaProvider(settings), nil
	default:
		return nil, errors.Newf("unknown analysis provider %q", settings.Provider).
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Context("provider", settings.Provider).
			Build()
	}
}
