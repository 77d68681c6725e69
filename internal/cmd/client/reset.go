package client

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/mptrack/pkg/tracker"
)

// NewResetCommand constructs the `reset` command, which deletes every
// persisted namespace in the configured store.
func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete all persisted tracker state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			tr, err := tracker.New(tracker.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()
			ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
			defer cancel()
			if err := tr.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset: ok disk_bytes=%d\n", tr.Runtime().DiskUsage())
			return nil
		},
	}
}
