package enrichment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

var retryBaseDelay = 2 * time.Second

// Orchestrator runs the analysis products for confirmed events. Products
// execute in two stages: the scene description and structured findings go
// first, then the recommendations and report, which build on the first
// stage's outputs. All provider calls across all events share one
// concurrency cap. A failing product never blocks the others.
type Orchestrator struct {
	cfg      conf.EnrichmentSettings
	main     conf.MainSettings
	provider Provider
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger

	// OnProgress fires when analysis starts for an event. OnResult fires
	// once per finished product, success or failure. OnUnavailable fires
	// instead of the product callbacks when the provider cannot serve the
	// event at all. All callbacks are optional and run on orchestrator
	// goroutines.
	OnProgress    func(event *detection.Event)
	OnResult      func(event *detection.Event, result *detection.Result)
	OnUnavailable func(event *detection.Event, fallbackReport string)
}

// NewOrchestrator builds an orchestrator around the configured provider.
func NewOrchestrator(settings *conf.Settings, provider Provider) *Orchestrator {
	concurrency := settings.Enrichment.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		cfg:      settings.Enrichment,
		main:     settings.Main,
		provider: provider,
		sem:      make(chan struct{}, concurrency),
		logger:   logging.ForService("enrichment"),
	}
}

// Enrich starts asynchronous analysis for a confirmed event and returns
// immediately. The caller's context bounds the whole orchestrator; each
// event additionally gets its own ceiling timeout.
func (o *Orchestrator) Enrich(ctx context.Context, event *detection.Event) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, event)
	}()
}

// Wait blocks until all in-flight event analyses have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, event *detection.Event) {
	logger := o.logger.With("event_id", event.ID)
	ec := o.eventContext(event)

	if err := o.provider.CheckAvailability(ctx); err != nil {
		logger.Warn("analysis provider unavailable, degrading to basic report",
			"provider", o.provider.Name(), "error", err)
		if o.OnUnavailable != nil {
			o.OnUnavailable(event, BasicReport(ec))
		}
		return
	}

	event.SetStatus(detection.StatusEnriching)
	if o.cfg.NotifyProgress && o.OnProgress != nil {
		o.OnProgress(event)
	}

	eventCtx, cancel := context.WithTimeout(ctx, o.cfg.EventTimeout)
	defer cancel()

	logger.Info("starting analysis",
		"provider", o.provider.Name(),
		"event_timeout", o.cfg.EventTimeout)

	// stage one: products that read the frame directly
	var wg sync.WaitGroup
	if o.cfg.Products.SceneDescription {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			payload, err := o.runProduct(eventCtx, ProductSceneDescription, Request{
				Prompt: scenePrompt(ec),
				Image:  ec.Image,
			})
			if err == nil {
				ec.SceneDescription = payload
			}
			o.finishProduct(event, ProductSceneDescription, payload, started, err)
		}()
	}
	if o.cfg.Products.StructuredFindings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			payload, err := o.runProduct(eventCtx, ProductStructuredFindings, Request{
				Prompt:     findingsPrompt(ec),
				Image:      ec.Image,
				ExpectJSON: true,
			})
			if err == nil {
				// a response that is not valid JSON is still a usable
				// product, it just cannot feed the later stage
				if findings, parseErr := ParseStructured(payload); parseErr == nil {
					ec.Findings = findings
					payload = FormatFindings(findings)
				} else {
					o.logger.Warn("structured findings are not valid JSON, keeping raw text",
						"event_id", event.ID, "error", parseErr)
				}
			}
			o.finishProduct(event, ProductStructuredFindings, payload, started, err)
		}()
	}
	wg.Wait()

	// stage two: products built on the first stage's outputs; a missing
	// input degrades the prompt, it does not skip the product
	if o.cfg.Products.Recommendations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			payload, err := o.runProduct(eventCtx, ProductRecommendations, Request{
				Prompt: recommendationsPrompt(ec),
			})
			o.finishProduct(event, ProductRecommendations, payload, started, err)
		}()
	}
	if o.cfg.Products.Report {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			payload, err := o.runProduct(eventCtx, ProductReport, Request{
				Prompt: reportPrompt(ec),
			})
			o.finishProduct(event, ProductReport, payload, started, err)
		}()
	}
	wg.Wait()

	logger.Info("analysis finished", "results", len(event.Results()))
}

// runProduct executes a single provider call with the per-call timeout and
// bounded retries. The event ceiling context bounds all attempts together.
func (o *Orchestrator) runProduct(eventCtx context.Context, kind ProductKind, req Request) (string, error) {
	started := time.Now()
	backoff := retry.WithMaxRetries(uint64(o.cfg.MaxRetries), retry.NewExponential(retryBaseDelay))

	var payload string
	err := retry.Do(eventCtx, backoff, func(ctx context.Context) error {
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-o.sem }()

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()

		out, err := o.provider.Generate(callCtx, req)
		if err != nil {
			if retryable(err) && ctx.Err() == nil {
				o.logger.Debug("product attempt failed, will retry",
					"product", kind, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		payload = out
		return nil
	})
	if err != nil {
		category := errors.CategoryEnrichment
		if eventCtx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return "", errors.New(err).
			Component("enrichment").
			Category(category).
			Context("product", string(kind)).
			Context("provider", o.provider.Name()).
			Timing("generate", time.Since(started)).
			Build()
	}
	return payload, nil
}

func (o *Orchestrator) finishProduct(event *detection.Event, kind ProductKind, payload string, started time.Time, err error) {
	result := &detection.Result{Kind: string(kind), Latency: time.Since(started)}
	if err != nil {
		result.Err = err
		o.logger.Warn("analysis product failed",
			"event_id", event.ID, "product", kind, "error", err)
	} else {
		result.Payload = payload
		o.logger.Debug("analysis product complete",
			"event_id", event.ID, "product", kind, "payload_chars", len(payload))
	}

	event.AttachResult(result)
	if o.OnResult != nil {
		o.OnResult(event, result)
	}
}

// retryable reports whether a provider failure is worth another attempt.
// Configuration problems and out-of-memory model loads fail the same way on
// every attempt.
func retryable(err error) bool {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if ee.Category == errors.CategoryConfiguration {
			return false
		}
		if fatal, ok := ee.Context["fatal"].(string); ok && fatal == "true" {
			return false
		}
	}
	return true
}

func (o *Orchestrator) eventContext(event *detection.Event) *EventContext {
	ec := &EventContext{
		EventID:   event.ID,
		CameraID:  o.main.CameraID,
		Location:  o.main.Location,
		Timestamp: event.ConfirmTime,
		Score:     event.PeakScore,
	}
	if event.Frame != nil {
		ec.Image = event.Frame.Data
	}
	return ec
}
