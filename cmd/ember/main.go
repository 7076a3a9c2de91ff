// Package main is the entry point for the ember command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/ember/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configPath string
	kilnPath   string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "ember <command>",
	Short:         "Run and inspect script event handlers",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&kilnPath, "kiln", "k", "", "kiln (workspace) path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// openApp builds the application from the global flags.
func openApp(ctx context.Context, skipDiscovery bool) (*app.Application, error) {
	return app.New(ctx, app.Options{
		ConfigPath:    configPath,
		KilnPath:      kilnPath,
		LogLevel:      logLevel,
		SkipDiscovery: skipDiscovery,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}
