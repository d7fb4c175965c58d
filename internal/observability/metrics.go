// Package observability exposes Prometheus metrics for the detection
// pipeline on an optional HTTP listener.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// Metrics holds the pipeline's instrumentation. All counters are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	FramesSampled    prometheus.Counter
	ClassifierErrors prometheus.Counter
	AccidentScore    prometheus.Histogram
	EventsConfirmed  prometheus.Counter
	Products         *prometheus.CounterVec // kind, status
	Deliveries       *prometheus.CounterVec // channel, status
	StreamReconnects prometheus.Counter

	logger *slog.Logger
}

// NewMetrics builds the metric set on its own registry so tests never
// collide on the global one.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		FramesSampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadsentry_frames_sampled_total",
			Help: "Frames pulled from the stream and scored.",
		}),
		ClassifierErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadsentry_classifier_errors_total",
			Help: "Frames skipped because classification failed.",
		}),
		AccidentScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadsentry_accident_score",
			Help:    "Distribution of per-frame accident scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		EventsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadsentry_events_confirmed_total",
			Help: "Accident events that passed temporal confirmation.",
		}),
		Products: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadsentry_enrichment_products_total",
			Help: "Analysis product outcomes by kind and status.",
		}, []string{"kind", "status"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadsentry_notification_deliveries_total",
			Help: "Notification delivery outcomes by channel and status.",
		}, []string{"channel", "status"}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadsentry_stream_reconnects_total",
			Help: "Times the frame source had to reconnect.",
		}),
		logger: logging.ForService("metrics"),
	}
}

// ObserveProduct records one analysis product outcome.
func (m *Metrics) ObserveProduct(kind string, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	m.Products.WithLabelValues(kind, status).Inc()
}

// ObserveDelivery records one notification delivery outcome.
func (m *Metrics) ObserveDelivery(channel string, delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.Deliveries.WithLabelValues(channel, status).Inc()
}

// Server exposes the metrics over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds a /metrics listener for the metric set.
func NewServer(listen string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: m.logger,
	}
}

// Start serves metrics until the context is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("metrics listener started", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics listener shutdown failed", "error", err)
		}
	}()
}
