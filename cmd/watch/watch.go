// Package watch implements the realtime detection command.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/classifier"
	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/enrichment"
	"github.com/roadsentry/roadsentry-go/internal/frame"
	"github.com/roadsentry/roadsentry-go/internal/logging"
	"github.com/roadsentry/roadsentry-go/internal/mqtt"
	"github.com/roadsentry/roadsentry-go/internal/notification"
	"github.com/roadsentry/roadsentry-go/internal/observability"
	"github.com/roadsentry/roadsentry-go/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 30 * time.Second

// Command creates a new command that watches a video source for accidents.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a video source for accidents",
		Long:  "Sample frames from a video file or RTSP stream, confirm accidents and deliver notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the watch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Stream.Source, "source", viper.GetString("stream.source"), "Video file path or RTSP URL to watch")
	cmd.Flags().StringVar(&settings.Stream.Transport, "rtsptransport", viper.GetString("stream.transport"), "RTSP transport (tcp/udp)")
	cmd.Flags().DurationVar(&settings.Stream.SampleInterval, "interval", viper.GetDuration("stream.sampleinterval"), "Interval between sampled frames")
	cmd.Flags().StringVar(&settings.Classifier.ModelPath, "model", viper.GetString("classifier.modelpath"), "Path to the ONNX accident model")
	cmd.Flags().StringVar(&settings.Enrichment.Provider, "provider", viper.GetString("enrichment.provider"), "Analysis provider (gemini/ollama)")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Enable Prometheus metrics endpoint")
	cmd.Flags().StringVar(&settings.Metrics.Listen, "listen", viper.GetString("metrics.listen"), "Listen address and port of metrics endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// run wires the pipeline from settings and blocks until the source is
// exhausted or the process receives an interrupt.
func run(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.ForService("watch")

	source := frame.NewFFmpegSource(settings.Stream)

	cls, err := classifier.NewONNXClassifier(&settings.Classifier, settings.Stream.Width, settings.Stream.Height)
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}

	primary, secondary, err := buildTransports(&settings.Notify)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(&settings.Notify, primary, secondary)

	var orchestrator *enrichment.Orchestrator
	if settings.Enrichment.Enabled {
		provider, err := enrichment.NewProvider(&settings.Enrichment)
		if err != nil {
			return fmt.Errorf("failed to create analysis provider: %w", err)
		}
		orchestrator = enrichment.NewOrchestrator(settings, provider)
	}

	var mqttClient mqtt.Client
	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(settings)
		if err := mqttClient.Connect(ctx); err != nil {
			// The client reconnects on its own once the broker is back.
			logger.Warn("initial MQTT connection failed", "broker", settings.MQTT.Broker, "error", err)
		}
	}

	var metrics *observability.Metrics
	if settings.Metrics.Enabled {
		metrics = observability.NewMetrics()
		observability.NewServer(settings.Metrics.Listen, metrics).Start(ctx)
		source.OnReconnect = func() { metrics.StreamReconnects.Inc() }
	}

	dispatcher.Start(ctx)

	p := pipeline.New(settings, source, cls, dispatcher, orchestrator, mqttClient, metrics)
	runErr := p.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("pipeline stopped", "error", runErr)
	}

	// Let queued notifications drain before tearing the transports down.
	dispatcher.Stop(shutdownTimeout)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if err := p.Close(); err != nil {
		logger.Warn("shutdown cleanup failed", "error", err)
	}

	return runErr
}

// buildTransports selects the primary and optional secondary delivery
// transport from the notification settings.
func buildTransports(settings *conf.NotifySettings) (primary, secondary notification.Transport, err error) {
	if settings.Telegram.Enabled {
		primary, err = notification.NewTelegramTransport(&settings.Telegram)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Telegram transport: %w", err)
		}
	}

	if settings.Shoutrrr.Enabled {
		st, err := notification.NewShoutrrrTransport(&settings.Shoutrrr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create push transport: %w", err)
		}
		if primary == nil {
			primary = st
		} else {
			secondary = st
		}
	}

	if primary == nil {
		return nil, nil, fmt.Errorf("no notification transport enabled, enable telegram or shoutrrr")
	}
	return primary, secondary, nil
}
