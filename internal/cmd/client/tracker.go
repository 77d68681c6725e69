package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/pkg/log"
	"github.com/rzbill/mptrack/pkg/tracker"
)

// AddTrackerFlags registers the persistent flags shared by every command.
func AddTrackerFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (JSON or YAML)")
	f.String("api-key", "", "API key of the instance")
	f.String("instance", "", "Instance name (default instance when empty)")
	f.String("collector", "", "Base URL serving both config and identity endpoints")
	f.Bool("dev", false, "Use the development environment")
	f.String("backend", "", "Storage backend: memory|pebble")
	f.String("data-dir", "", "Data directory for the pebble backend")
	f.Duration("timeout", 10*time.Second, "Overall timeout")
}

// loadConfig merges file, environment and flags in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("config env: %w", err)
	}
	if v, _ := cmd.Flags().GetString("collector"); v != "" {
		v = strings.TrimRight(v, "/")
		cfg.CDNBaseURL = v
		cfg.IdentityURL = v + "/v1"
	}
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		cfg.Environment = config.Development
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (log.Logger, error) {
	return log.ApplyConfig(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// withInstance opens a tracker, initialises the selected instance, waits
// for it to resolve, runs fn, flushes and prints the resulting snapshot.
func withInstance(cmd *cobra.Command, fn func(ctx context.Context, in *tracker.Instance) (any, error)) error {
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		return fmt.Errorf("--api-key is required")
	}
	name, _ := cmd.Flags().GetString("instance")
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

	in, err := tr.Init(apiKey, nil, name)
	if err != nil {
		return err
	}
	if err := in.WaitReady(ctx); err != nil {
		return fmt.Errorf("instance not ready: %w", err)
	}
	out, err := fn(ctx, in)
	if err != nil {
		return err
	}
	if err := in.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	snap, err := in.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	if out != nil {
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return enc.Encode(snap)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parsePairs parses repeated key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q; use key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
