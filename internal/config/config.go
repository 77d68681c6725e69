package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects development or production collection.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Default endpoints of the collection service.
const (
	DefaultCDNBaseURL  = "https://jssdkcdns.mparticle.com"
	DefaultIdentityURL = "https://identity.mparticle.com/v1"
)

// Config is the per-instance SDK configuration, loaded from file/env.
type Config struct {
	Environment Environment `json:"environment" yaml:"environment" env:"ENVIRONMENT"`
	CDNBaseURL  string      `json:"cdnBaseUrl" yaml:"cdnBaseUrl" env:"CDN_BASE_URL"`
	IdentityURL string      `json:"identityUrl" yaml:"identityUrl" env:"IDENTITY_URL"`

	// RequestConfig fetches the workspace configuration remotely on init.
	RequestConfig bool `json:"requestConfig" yaml:"requestConfig" env:"REQUEST_CONFIG"`
	// WorkspaceToken is used when RequestConfig is false, and as the
	// fallback when the remote fetch fails.
	WorkspaceToken string `json:"workspaceToken" yaml:"workspaceToken" env:"WORKSPACE_TOKEN"`

	UploadInterval  time.Duration `json:"uploadInterval" yaml:"uploadInterval" env:"UPLOAD_INTERVAL"`
	UploadBatchSize int           `json:"uploadBatchSize" yaml:"uploadBatchSize" env:"UPLOAD_BATCH_SIZE"`
	MaxPendingOps   int           `json:"maxPendingOps" yaml:"maxPendingOps" env:"MAX_PENDING_OPS"`
	SessionTimeout  time.Duration `json:"sessionTimeout" yaml:"sessionTimeout" env:"SESSION_TIMEOUT"`
	RequestTimeout  time.Duration `json:"requestTimeout" yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
	IdentifyOnInit  bool          `json:"identifyOnInit" yaml:"identifyOnInit" env:"IDENTIFY_ON_INIT"`
	// EventFilter is an optional CEL expression; events for which it
	// evaluates to false are dropped before enqueue.
	EventFilter string `json:"eventFilter" yaml:"eventFilter" env:"EVENT_FILTER"`

	AppName    string `json:"appName" yaml:"appName" env:"APP_NAME"`
	AppVersion string `json:"appVersion" yaml:"appVersion" env:"APP_VERSION"`

	Storage Storage `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Log     Log     `json:"log" yaml:"log" envPrefix:"LOG_"`
}

// Storage configures the persistence driver shared by all instances.
type Storage struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"` // memory|pebble
	DataDir string `json:"dataDir" yaml:"dataDir" env:"DATA_DIR"`
	Fsync   string `json:"fsync" yaml:"fsync" env:"FSYNC"` // always|interval|never
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Environment:     Production,
		CDNBaseURL:      DefaultCDNBaseURL,
		IdentityURL:     DefaultIdentityURL,
		RequestConfig:   true,
		UploadInterval:  0,
		UploadBatchSize: 100,
		MaxPendingOps:   1024,
		SessionTimeout:  30 * time.Minute,
		RequestTimeout:  10 * time.Second,
		IdentifyOnInit:  true,
		Storage: Storage{
			Backend: "memory",
			Fsync:   "interval",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// IsDevelopment reports whether the development environment is selected.
func (c Config) IsDevelopment() bool { return c.Environment == Development }

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	switch c.Environment {
	case Development, Production:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}
	if c.CDNBaseURL == "" {
		return fmt.Errorf("config: cdnBaseUrl is required")
	}
	if c.UploadBatchSize <= 0 {
		return fmt.Errorf("config: uploadBatchSize must be positive")
	}
	if c.MaxPendingOps <= 0 {
		return fmt.Errorf("config: maxPendingOps must be positive")
	}
	switch c.Storage.Backend {
	case "memory", "pebble":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
