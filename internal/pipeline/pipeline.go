// Package pipeline runs the realtime loop: sample frames from the source,
// score them, feed the detector, and fan confirmed events out to the alert
// dispatcher, the analysis orchestrator and the MQTT broker.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/classifier"
	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
	"github.com/roadsentry/roadsentry-go/internal/enrichment"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/frame"
	"github.com/roadsentry/roadsentry-go/internal/logging"
	"github.com/roadsentry/roadsentry-go/internal/mqtt"
	"github.com/roadsentry/roadsentry-go/internal/notification"
	"github.com/roadsentry/roadsentry-go/internal/observability"
)

const mqttPublishTimeout = 15 * time.Second

// Pipeline owns the frame loop. The loop itself is strictly sequential;
// everything downstream of a confirmation is asynchronous so a slow
// provider or broker can never stall sampling.
type Pipeline struct {
	settings     *conf.Settings
	source       frame.Source
	classifier   classifier.Classifier
	detector     *detection.Detector
	dispatcher   *notification.Dispatcher
	orchestrator *enrichment.Orchestrator
	mqttClient   mqtt.Client
	metrics      *observability.Metrics
	logger       *slog.Logger

	mu     sync.Mutex
	events map[string]*detection.Event

	wg sync.WaitGroup
}

// New wires the pipeline. The orchestrator, MQTT client and metrics are
// optional; the dispatcher is required.
func New(settings *conf.Settings, source frame.Source, cls classifier.Classifier,
	dispatcher *notification.Dispatcher, orchestrator *enrichment.Orchestrator,
	mqttClient mqtt.Client, metrics *observability.Metrics,
) *Pipeline {
	p := &Pipeline{
		settings:     settings,
		source:       source,
		classifier:   cls,
		detector:     detection.New(settings.Detection),
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		mqttClient:   mqttClient,
		metrics:      metrics,
		logger:       logging.ForService("pipeline"),
		events:       make(map[string]*detection.Event),
	}

	dispatcher.OnDelivery = p.onDelivery
	if orchestrator != nil {
		orchestrator.OnProgress = p.onEnrichmentProgress
		orchestrator.OnResult = p.onEnrichmentResult
		orchestrator.OnUnavailable = p.onEnrichmentUnavailable
	}
	return p
}

// Run executes the frame loop until the context ends or the source is
// exhausted. A finished file source is a clean exit; an unrecoverable live
// source is an error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"source", p.settings.Stream.Source,
		"sample_interval", p.settings.Stream.SampleInterval)

	defer p.drain()

	for {
		if ctx.Err() != nil {
			return nil
		}

		f, err := p.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, frame.ErrEndOfStream):
				p.logger.Info("stream ended")
				return nil
			default:
				p.logger.Error("frame source failed", "error", err)
				return err
			}
		}

		if p.metrics != nil {
			p.metrics.FramesSampled.Inc()
		}

		score, err := p.classifier.Classify(ctx, f)
		if err != nil {
			// a frame that cannot be scored is a skipped sample, never a
			// reason to stop the loop
			if p.metrics != nil {
				p.metrics.ClassifierErrors.Inc()
			}
			p.logger.Warn("classification failed, skipping frame", "seq", f.Seq, "error", err)
			continue
		}
		if p.metrics != nil {
			p.metrics.AccidentScore.Observe(score)
		}

		event, err := p.detector.Observe(detection.Sample{
			Timestamp: f.Timestamp,
			Score:     score,
			Frame:     f,
		})
		if err != nil {
			p.logger.Warn("sample rejected", "seq", f.Seq, "score", score, "error", err)
			continue
		}
		if event != nil {
			p.handleConfirmed(ctx, event)
		}
	}
}

// handleConfirmed fans a fresh confirmation out. The alert is enqueued
// before anything else so it is always first in the alerts channel.
func (p *Pipeline) handleConfirmed(ctx context.Context, event *detection.Event) {
	p.track(event)
	if p.metrics != nil {
		p.metrics.EventsConfirmed.Inc()
	}
	p.logger.Info("accident confirmed",
		"event_id", event.ID,
		"peak_score", event.PeakScore,
		"window_start", event.StartTime,
		"confirmed_at", event.ConfirmTime)

	for _, task := range notification.AlertTasks(event, &p.settings.Main) {
		if err := p.dispatcher.Submit(task); err != nil {
			p.logger.Error("failed to queue alert", "event_id", event.ID, "error", err)
		}
	}

	if p.mqttClient != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.publishEvent(event)
		}()
	}

	if p.orchestrator != nil {
		p.orchestrator.Enrich(ctx, event)
	}
}

func (p *Pipeline) publishEvent(event *detection.Event) {
	msg := mqtt.NewEventMessage(event, &p.settings.Main)
	payload, err := msg.Marshal()
	if err != nil {
		p.logger.Error("failed to marshal event message", "event_id", event.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttPublishTimeout)
	defer cancel()
	if err := p.mqttClient.Publish(ctx, p.settings.MQTT.Topic, payload); err != nil {
		p.logger.Warn("failed to publish event", "event_id", event.ID, "error", err)
	}
}

func (p *Pipeline) onEnrichmentProgress(event *detection.Event) {
	for _, task := range notification.ProgressTasks(event) {
		if err := p.dispatcher.Submit(task); err != nil {
			p.logger.Warn("failed to queue progress message", "event_id", event.ID, "error", err)
		}
	}
}

func (p *Pipeline) onEnrichmentResult(event *detection.Event, result *detection.Result) {
	if p.metrics != nil {
		p.metrics.ObserveProduct(result.Kind, result.Failed())
	}

	kind := enrichment.ProductKind(result.Kind)
	var tasks []*notification.Task
	if result.Failed() {
		tasks = []*notification.Task{notification.FailureTask(event, kind)}
	} else {
		tasks = notification.ResultTasks(event, kind, result.Payload)
	}
	for _, task := range tasks {
		if err := p.dispatcher.Submit(task); err != nil {
			p.logger.Warn("failed to queue product message",
				"event_id", event.ID, "product", result.Kind, "error", err)
		}
	}
}

func (p *Pipeline) onEnrichmentUnavailable(event *detection.Event, fallbackReport string) {
	for _, task := range notification.FallbackTasks(event, fallbackReport) {
		if err := p.dispatcher.Submit(task); err != nil {
			p.logger.Warn("failed to queue fallback message", "event_id", event.ID, "error", err)
		}
	}
}

// onDelivery records the outcome on the owning event and advances it to
// delivered once every enabled product has a result and at least one
// message has landed.
func (p *Pipeline) onDelivery(task *notification.Task, delivered bool) {
	if p.metrics != nil {
		p.metrics.ObserveDelivery(string(task.Channel), delivered)
	}

	event := p.lookup(task.EventID)
	if event == nil {
		return
	}
	event.RecordDelivery(detection.Delivery{
		TaskID:    task.ID,
		Channel:   string(task.Channel),
		Delivered: delivered,
		At:        time.Now(),
	})
	if delivered {
		p.maybeMarkDelivered(event)
	}
}

// maybeMarkDelivered advances the event once enrichment has nothing more
// to add. With enrichment disabled the alert delivery alone is enough.
func (p *Pipeline) maybeMarkDelivered(event *detection.Event) {
	if event.Closed() {
		return
	}
	if p.orchestrator != nil && event.Status() == detection.StatusEnriching {
		products := p.settings.Enrichment.Products
		want := 0
		for _, enabled := range []bool{products.SceneDescription, products.StructuredFindings, products.Recommendations, products.Report} {
			if enabled {
				want++
			}
		}
		if len(event.Results()) < want {
			return
		}
	}
	event.SetStatus(detection.StatusDelivered)
}

func (p *Pipeline) track(event *detection.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.events {
		if e.Closed() {
			delete(p.events, id)
		}
	}
	p.events[event.ID] = event
}

// Events returns a snapshot of the events the pipeline is tracking.
func (p *Pipeline) Events() []*detection.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*detection.Event, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e)
	}
	return out
}

func (p *Pipeline) lookup(id string) *detection.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[id]
}

// drain waits for asynchronous work started by the loop.
func (p *Pipeline) drain() {
	if p.orchestrator != nil {
		p.orchestrator.Wait()
	}
	p.wg.Wait()
}

// Close releases the loop's resources. Call after Run has returned.
func (p *Pipeline) Close() error {
	var firstErr error
	if err := p.source.Close(); err != nil {
		firstErr = err
	}
	if err := p.classifier.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
