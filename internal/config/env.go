package config

import (
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "MPTRACK_"

// FromEnv overlays MPTRACK_* environment variables onto cfg. Unset
// variables leave the existing values untouched.
func FromEnv(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}
