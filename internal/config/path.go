package config

import (
	"os"
	"path/filepath"
)

const appDir = "mptrack"

// DefaultDataDir is where the pebble backend keeps tracker state when
// Storage.DataDir is empty: $XDG_STATE_HOME/mptrack, else the per-user
// cache directory, else ./mptrack-data.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, appDir)
	}
	return filepath.Join(".", appDir+"-data")
}
