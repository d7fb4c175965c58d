package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roadsentry/roadsentry-go/cmd"
	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	settings := conf.Setting()
	if settings == nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	if settings.Main.Log.Enabled {
		closeLog, err := logging.SetFileOutput(settings.Main.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		} else {
			defer func() { _ = closeLog() }()
		}
	}
	logging.Init(level)

	rootCmd := cmd.RootCommand(settings)
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
