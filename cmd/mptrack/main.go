package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/mptrack/internal/cmd/client"
	collectorrun "github.com/rzbill/mptrack/internal/cmd/collector"
	logpkg "github.com/rzbill/mptrack/pkg/log"
)

func main() {
	// Respect MPTRACK_LOG_LEVEL for CLI output
	level := os.Getenv("MPTRACK_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Pebble logs through the standard library logger
	logpkg.RedirectStdLog(logger)

	rootCmd := clientcmd.NewRoot()
	rootCmd.Long = "mptrack sends analytics events for one or more isolated instances and can serve a local collection endpoint."

	// collector start
	collectorCmd := &cobra.Command{Use: "collector", Short: "Local collection endpoint"}
	collectorStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Serve config, events and identity endpoints",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			metricsAddr, _ := cmd.Flags().GetString("metrics")
			pairs, _ := cmd.Flags().GetStringArray("token")
			tokens, err := collectorrun.ParseTokens(pairs)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := collectorrun.Run(ctx, collectorrun.Options{
				Addr:            addr,
				MetricsAddr:     metricsAddr,
				WorkspaceTokens: tokens,
			}); err != nil {
				return fmt.Errorf("collector error: %w", err)
			}
			return nil
		},
	}
	collectorStartCmd.Flags().String("addr", ":8088", "Listen address")
	collectorStartCmd.Flags().String("metrics", os.Getenv("MPTRACK_METRICS_ADDR"), "Metrics listen address (optional)")
	collectorStartCmd.Flags().StringArray("token", nil, "Workspace token mapping apiKey=token (repeatable)")
	collectorCmd.AddCommand(collectorStartCmd)
	rootCmd.AddCommand(collectorCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
