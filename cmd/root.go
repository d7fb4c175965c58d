package cmd

import (
	"log/slog"

	"github.com/roadsentry/roadsentry-go/cmd/check"
	"github.com/roadsentry/roadsentry-go/cmd/notify"
	"github.com/roadsentry/roadsentry-go/cmd/watch"
	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roadsentry",
		Short: "RoadSentry CLI",
		Long:  "Accident detection and notification pipeline for traffic camera streams.",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	watchCmd := watch.Command(settings)
	notifyCmd := notify.Command(settings)
	checkCmd := check.Command(settings)

	subcommands := []*cobra.Command{
		watchCmd,
		notifyCmd,
		checkCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		if settings.Debug {
			logging.Init(slog.LevelDebug)
		}

		// The check command reports configuration problems itself.
		if cmd.Name() == checkCmd.Name() {
			return nil
		}

		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines global flags shared by all subcommands.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Name of this node, used in messages and MQTT payloads")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		cobra.CheckErr(err)
	}
}
