package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	cfgpkg "github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/identity"
	"github.com/rzbill/mptrack/internal/metrics"
	"github.com/rzbill/mptrack/internal/namespace"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/remoteconfig"
	pebblestore "github.com/rzbill/mptrack/internal/storage/pebble"
	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Metrics is optional; nil disables metrics.
	Metrics *metrics.Metrics
	// HTTPClient is shared by every outbound client when set.
	HTTPClient *http.Client
	// Driver overrides the storage backend selected by Config.Storage.
	Driver persist.Driver
}

// Runtime owns the collaborators shared by every instance: the storage
// driver and the remote config, upload and identity clients.
type Runtime struct {
	db      *pebblestore.DB
	driver  persist.Driver
	config  cfgpkg.Config
	log     log.Logger
	metrics *metrics.Metrics

	remote    *remoteconfig.Client
	transport *transport.Client
	identity  *identity.Client

	mu     sync.Mutex
	stores map[string]*persist.Store
}

// Open initializes storage and clients and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	rt := &Runtime{
		config:  opts.Config,
		log:     opts.Logger,
		metrics: opts.Metrics,
		stores:  make(map[string]*persist.Store),
	}

	switch {
	case opts.Driver != nil:
		rt.driver = opts.Driver
	case opts.Config.Storage.Backend == "pebble":
		dir := opts.Config.Storage.DataDir
		if dir == "" {
			dir = cfgpkg.DefaultDataDir()
		}
		fsync, err := pebblestore.ParseFsyncMode(opts.Config.Storage.Fsync)
		if err != nil {
			return nil, err
		}
		pbOpts := pebblestore.Options{DataDir: dir, Fsync: fsync, CompactOnPurge: true, Logger: opts.Logger}
		if opts.Metrics != nil {
			pbOpts.Metrics = opts.Metrics
		}
		db, err := pebblestore.Open(pbOpts)
		if err != nil {
			return nil, fmt.Errorf("runtime: open pebble at %s: %w", dir, err)
		}
		rt.db = db
		rt.driver = persist.NewPebble(db)
	case opts.Config.Storage.Backend == "" || opts.Config.Storage.Backend == "memory":
		rt.driver = persist.NewMemory()
	default:
		return nil, fmt.Errorf("runtime: unknown storage backend %q", opts.Config.Storage.Backend)
	}

	remote, err := remoteconfig.New(remoteconfig.Options{
		Timeout:    opts.Config.RequestTimeout,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	})
	if err != nil {
		_ = rt.driver.Close()
		return nil, err
	}
	rt.remote = remote
	tOpts := transport.Options{
		Timeout:    opts.Config.RequestTimeout,
		MaxRetries: 3,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	}
	if opts.Metrics != nil {
		tOpts.Observer = opts.Metrics
	}
	rt.transport = transport.New(tOpts)
	rt.identity = identity.New(identity.Options{
		Timeout:    opts.Config.RequestTimeout,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	})
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	r.mu.Lock()
	clear(r.stores)
	r.mu.Unlock()
	if r.driver == nil {
		return nil
	}
	err := r.driver.Close()
	r.driver = nil
	return err
}

// CheckHealth verifies the storage driver answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.driver == nil {
		return errors.New("runtime: storage not open")
	}
	_, err := r.driver.Get(ctx, []byte("health"))
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		return err
	}
	return nil
}

// OpenStore returns the store of ns. Every caller asking for the same
// namespace gets the same Store, so instances sharing a workspace token
// share its record and outboxes.
func (r *Runtime) OpenStore(ns persist.Namespace) *persist.Store {
	key := ns.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[key]; ok {
		return s
	}
	s := persist.Open(r.driver, ns)
	r.stores[key] = s
	return s
}

// EnsureNamespace records ns in the namespace index on behalf of apiKey.
func (r *Runtime) EnsureNamespace(ctx context.Context, ns persist.Namespace, apiKey string) (namespace.Meta, error) {
	return namespace.Ensure(ctx, r.driver, ns, apiKey)
}

// PurgeAll deletes every namespace the index knows about and forgets
// cached stores and remote configuration.
func (r *Runtime) PurgeAll(ctx context.Context) (int, error) {
	r.remote.Purge()
	r.mu.Lock()
	clear(r.stores)
	r.mu.Unlock()
	return namespace.PurgeAll(ctx, r.driver)
}

// DiskUsage reports the bytes held by the pebble backend, 0 for memory.
func (r *Runtime) DiskUsage() uint64 {
	if r.db == nil {
		return 0
	}
	return r.db.DiskUsage()
}

// Driver exposes the storage driver (internal use only).
func (r *Runtime) Driver() persist.Driver { return r.driver }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the root logger.
func (r *Runtime) Logger() log.Logger { return r.log }

// Metrics returns the metrics sink, possibly nil.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// RemoteConfig returns the remote config client.
func (r *Runtime) RemoteConfig() *remoteconfig.Client { return r.remote }

// Transport returns the upload client.
func (r *Runtime) Transport() *transport.Client { return r.transport }

// Identity returns the identity client.
func (r *Runtime) Identity() *identity.Client { return r.identity }
