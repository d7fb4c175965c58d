// Package notify implements a command that sends a test notification
// through the configured transports.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/notification"
	"github.com/spf13/cobra"
)

// Command returns a cobra command that sends a test notification.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		channel string
		title   string
		message string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification through the configured transports",
		Long: `Send a test notification through the delivery pipeline.

Examples:
  # Test the alert channel
  roadsentry notify --channel=alerts --title="Test" --message="Hello"

  # Test the report channel
  roadsentry notify --channel=reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch notification.Channel
			switch channel {
			case "alerts":
				ch = notification.ChannelAlerts
			case "reports":
				ch = notification.ChannelReports
			default:
				return fmt.Errorf("invalid channel: %s", channel)
			}

			var primary, secondary notification.Transport
			var err error
			if settings.Notify.Telegram.Enabled {
				primary, err = notification.NewTelegramTransport(&settings.Notify.Telegram)
				if err != nil {
					return fmt.Errorf("failed to create Telegram transport: %w", err)
				}
			}
			if settings.Notify.Shoutrrr.Enabled {
				st, err := notification.NewShoutrrrTransport(&settings.Notify.Shoutrrr)
				if err != nil {
					return fmt.Errorf("failed to create push transport: %w", err)
				}
				if primary == nil {
					primary = st
				} else {
					secondary = st
				}
			}
			if primary == nil {
				return fmt.Errorf("no notification transport enabled, enable telegram or shoutrrr")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			done := make(chan bool, 1)
			dispatcher := notification.NewDispatcher(&settings.Notify, primary, secondary)
			dispatcher.OnDelivery = func(task *notification.Task, delivered bool) {
				done <- delivered
			}
			dispatcher.Start(ctx)
			defer dispatcher.Stop(5 * time.Second)

			task := notification.NewTask("cli-test", ch, notification.KindAlert, title, message)
			if err := dispatcher.Submit(task); err != nil {
				return fmt.Errorf("failed to queue notification: %w", err)
			}

			select {
			case delivered := <-done:
				if !delivered {
					return fmt.Errorf("notification delivery failed, check transport credentials")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Notification delivered: id=%s channel=%s\n", task.ID, task.Channel)
				return nil
			case <-time.After(wait):
				return fmt.Errorf("no delivery confirmation within %s", wait)
			}
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "alerts", "Delivery channel: alerts|reports")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&message, "message", "This is a test notification", "Notification message")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "Time to wait for delivery confirmation")

	return cmd
}
