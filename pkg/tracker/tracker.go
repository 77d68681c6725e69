// Package tracker is the public entry point. A Tracker owns a registry of
// named instances, each isolated in storage, session and upload queue. The
// package-level convenience methods on Tracker forward to the default
// instance.
//
//	t, _ := tracker.New(tracker.Options{Config: cfg})
//	defer t.Close()
//	t.Init("apiKey1", nil)                // default instance
//	t.Init("apiKey2", nil, "instance2")   // named instance
//	t.LogEvent("signup", types.EventTypeNavigation, nil)
//	in2, _ := t.GetInstance("instance2")
//	in2.LogEvent("signup", types.EventTypeNavigation, nil)
package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/instance"
	"github.com/rzbill/mptrack/internal/metrics"
	"github.com/rzbill/mptrack/internal/registry"
	"github.com/rzbill/mptrack/internal/runtime"
	"github.com/rzbill/mptrack/pkg/log"
)

// Re-exported so callers can match errors without importing internals.
var (
	ErrUnknownInstance   = registry.ErrUnknownInstance
	ErrDuplicateInstance = registry.ErrDuplicateInstance
	ErrQueueFull         = instance.ErrQueueFull
	ErrClosed            = instance.ErrClosed
	ErrInvalidEvent      = instance.ErrInvalidEvent
)

// DefaultInstanceName is the reserved name of the default instance.
const DefaultInstanceName = instance.DefaultName

// Instance is a handle to one named instance.
type Instance = instance.Instance

// Config is the per-instance configuration.
type Config = config.Config

// Options configures New.
type Options struct {
	// Config is the base configuration for instances initialised without
	// one. It also selects the storage backend.
	Config config.Config
	Logger log.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
	// HTTPClient is used for every outbound request when set.
	HTTPClient *http.Client
	// StrictInit makes Init fail with ErrDuplicateInstance instead of
	// replacing an existing instance.
	StrictInit bool
}

// Tracker routes calls to named instances.
type Tracker struct {
	opts Options
	rt   *runtime.Runtime
	reg  *registry.Registry
	log  log.Logger

	mu   sync.Mutex
	base config.Config
	def  *instance.Instance
}

// New opens the shared runtime and returns an empty Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	rt, err := runtime.Open(runtime.Options{
		Config:     opts.Config,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Tracker{
		opts: opts,
		rt:   rt,
		reg:  registry.New(rt, opts.Logger),
		log:  opts.Logger.With(log.Component("tracker")),
		base: opts.Config,
	}, nil
}

// Init creates the instance name (default when omitted) for apiKey and
// returns immediately; resolution continues in the background. A nil cfg
// uses the tracker's base configuration. An existing instance of the same
// name is stopped and replaced unless Options.StrictInit is set.
func (t *Tracker) Init(apiKey string, cfg *config.Config, name ...string) (*Instance, error) {
	n := registry.Normalize(firstName(name))
	t.mu.Lock()
	c := t.base
	t.mu.Unlock()
	if cfg != nil {
		c = *cfg
	}
	in, err := instance.New(instance.Options{Name: n, APIKey: apiKey, Config: c, Runtime: t.rt})
	if err != nil {
		return nil, err
	}
	if t.opts.StrictInit {
		if err := t.reg.RegisterNew(in); err != nil {
			_ = in.Close()
			return nil, err
		}
	} else if _, err := t.reg.Register(context.Background(), in); err != nil {
		t.log.Warn("stopping replaced instance failed", log.Str("instance", n), log.Err(err))
	}
	in.Start()
	if n == instance.DefaultName {
		t.mu.Lock()
		t.def = in
		t.mu.Unlock()
	}
	t.log.Info("instance initialised", log.Str("instance", n), log.Str("api_key", apiKey))
	return in, nil
}

// GetInstance returns the named instance; no name means the default.
func (t *Tracker) GetInstance(name ...string) (*Instance, error) {
	n := registry.Normalize(firstName(name))
	if n == instance.DefaultName {
		t.mu.Lock()
		def := t.def
		t.mu.Unlock()
		if def != nil && def.State() != instance.StateClosed {
			return def, nil
		}
	}
	return t.reg.Resolve(n)
}

// Names lists registered instance names.
func (t *Tracker) Names() []string { return t.reg.Names() }

// Reset stops every instance and deletes all persisted state.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.def = nil
	t.mu.Unlock()
	return t.reg.ResetAll(ctx)
}

// ResetForTests resets and replaces the base configuration.
func (t *Tracker) ResetForTests(ctx context.Context, cfg config.Config) error {
	if err := t.Reset(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	t.base = cfg
	t.mu.Unlock()
	return nil
}

// Close stops every instance without purging and releases storage.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.def = nil
	t.mu.Unlock()
	err := t.reg.StopAll(context.Background())
	return errors.Join(err, t.rt.Close())
}

// Runtime exposes shared collaborators (health checks, metrics).
func (t *Tracker) Runtime() *runtime.Runtime { return t.rt }

func firstName(name []string) string {
	if len(name) == 0 {
		return ""
	}
	return name[0]
}
