// Package check implements a preflight command that verifies the
// configuration and the reachability of external services.
package check

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/enrichment"
	"github.com/roadsentry/roadsentry-go/internal/notification"
	"github.com/spf13/cobra"
)

const probeTimeout = 10 * time.Second

// Command returns a cobra command that runs the preflight checks.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify configuration and external service availability",
		Long:  "Run preflight checks: configuration validity, video source, analysis provider and notification transport reachability.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings)
		},
	}
}

type probe struct {
	name string
	fn   func(ctx context.Context) error
}

func run(cmd *cobra.Command, settings *conf.Settings) error {
	out := cmd.OutOrStdout()
	probes := []probe{
		{"configuration", func(context.Context) error { return conf.ValidateSettings(settings) }},
		{"video source", func(context.Context) error { return checkSource(&settings.Stream) }},
		{"analysis provider", func(ctx context.Context) error { return checkProvider(ctx, &settings.Enrichment) }},
		{"notification transport", func(ctx context.Context) error { return checkTelegram(ctx, &settings.Notify.Telegram) }},
	}

	failed := 0
	for i, p := range probes {
		fmt.Fprintf(out, "[%d/%d] Checking %s...\n", i+1, len(probes), p.name)

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		err := p.fn(ctx)
		cancel()

		switch {
		case err == nil:
			fmt.Fprintf(out, "      OK\n")
		case isSkip(err):
			fmt.Fprintf(out, "      skipped: %v\n", err)
		default:
			fmt.Fprintf(out, "      FAILED: %v\n", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

// errSkipped marks a probe whose subsystem is disabled in the configuration.
type errSkipped struct{ reason string }

func (e errSkipped) Error() string { return e.reason }

func isSkip(err error) bool {
	_, ok := err.(errSkipped)
	return ok
}

func checkSource(settings *conf.StreamSettings) error {
	if settings.Source == "" {
		return fmt.Errorf("stream source is not set")
	}
	// Network sources are probed at runtime by the reconnect loop.
	if strings.Contains(settings.Source, "://") {
		return nil
	}
	if _, err := os.Stat(settings.Source); err != nil {
		return fmt.Errorf("video file not accessible: %w", err)
	}
	return nil
}

func checkProvider(ctx context.Context, settings *conf.EnrichmentSettings) error {
	if !settings.Enabled {
		return errSkipped{"enrichment disabled"}
	}
	provider, err := enrichment.NewProvider(settings)
	if err != nil {
		return err
	}
	if err := provider.CheckAvailability(ctx); err != nil {
		return fmt.Errorf("%s unavailable: %w", provider.Name(), err)
	}
	return nil
}

func checkTelegram(ctx context.Context, settings *conf.TelegramSettings) error {
	if !settings.Enabled {
		return errSkipped{"telegram disabled"}
	}
	transport, err := notification.NewTelegramTransport(settings)
	if err != nil {
		return err
	}
	return transport.CheckAvailability(ctx)
}
