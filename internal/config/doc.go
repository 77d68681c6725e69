// Package config provides loading and environment overlay for the tracker
// configuration. It exposes a Default() baseline, file loading (JSON or
// YAML by extension) and an MPTRACK_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	// Optionally load from file and overlay env vars
//	if fileCfg, err := config.Load("/etc/mptrack.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	_ = config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	t, _ := tracker.New(tracker.Options{Config: cfg})
//	defer t.Close()
package config
