// Package instance implements one isolated tracker instance. Every instance
// owns a goroutine that holds all of its state: resolution of the workspace
// token, the persisted record, the session and the outbox. Public methods
// post operations to a bounded mailbox and the goroutine applies them in
// call order.
//
// Calls made before the workspace token is resolved wait in the mailbox and
// run once the instance is Ready. Nothing reaches storage or the network
// before that. The persisted record belongs to the namespace Store, which
// every instance resolving to the same namespace shares.
package instance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/filter"
	"github.com/rzbill/mptrack/internal/metrics"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/runtime"
	"github.com/rzbill/mptrack/internal/session"
	"github.com/rzbill/mptrack/pkg/id"
	"github.com/rzbill/mptrack/pkg/log"
)

// DefaultName is the reserved name of the default instance.
const DefaultName = "default_instance"

var (
	// ErrQueueFull is returned when the mailbox is at capacity.
	ErrQueueFull = errors.New("instance: mailbox full")
	// ErrClosed is returned for calls made after Stop.
	ErrClosed = errors.New("instance: closed")
	// ErrInvalidEvent is returned for events that cannot be tracked.
	ErrInvalidEvent = errors.New("instance: invalid event")
)

// State is the lifecycle state of an instance.
type State int32

const (
	StateUninitialized State = iota
	StateResolving
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures New.
type Options struct {
	Name    string
	APIKey  string
	Config  config.Config
	Runtime *runtime.Runtime
	// Clock overrides time.Now for sessions.
	Clock func() time.Time
}

type op func(in *Instance)

// Instance is one named tracker instance.
type Instance struct {
	name   string
	apiKey string
	cfg    config.Config
	rt     *runtime.Runtime
	log    log.Logger
	m      *metrics.Metrics
	filter filter.Filter
	ids    *id.Generator

	mailbox chan op
	closing chan struct{}
	ready   chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	state     atomic.Int32
	startOnce sync.Once
	stopOnce  sync.Once
	readyOnce sync.Once

	mu             sync.RWMutex
	workspaceToken string
	storeKey       string
	err            error

	// Owned by the instance goroutine.
	sessions   *session.Tracker
	store      *persist.Store
	outbox     *persist.Outbox
	currency   string
	appName    string
	appVersion string
	unsent     int
	draining   bool
}

// New validates opts and compiles the event filter. Calls posted before
// Start wait in the mailbox.
func New(opts Options) (*Instance, error) {
	if opts.APIKey == "" {
		return nil, errors.New("instance: api key is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("instance: runtime is required")
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	f, err := filter.Compile(opts.Config.EventFilter)
	if err != nil {
		return nil, err
	}
	var sessOpts []session.Option
	if opts.Clock != nil {
		sessOpts = append(sessOpts, session.WithClock(opts.Clock))
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := &Instance{
		name:       opts.Name,
		apiKey:     opts.APIKey,
		cfg:        opts.Config,
		rt:         opts.Runtime,
		m:          opts.Runtime.Metrics(),
		filter:     f,
		ids:        id.NewGenerator(),
		mailbox:    make(chan op, opts.Config.MaxPendingOps),
		closing:    make(chan struct{}),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   session.NewTracker(opts.Config.SessionTimeout, sessOpts...),
		appName:    opts.Config.AppName,
		appVersion: opts.Config.AppVersion,
	}
	in.log = opts.Runtime.Logger().With(
		log.Component("instance"),
		log.Str("instance", in.name),
		log.Str("api_key", in.apiKey),
	)
	return in, nil
}

// Start launches the instance goroutine. It returns before resolution
// completes. Starting a stopped instance does nothing.
func (in *Instance) Start() {
	in.startOnce.Do(func() { go in.run() })
}

// Name returns the registry name.
func (in *Instance) Name() string { return in.name }

// APIKey returns the apiKey every event of this instance is sent under.
func (in *Instance) APIKey() string { return in.apiKey }

// Config returns the configuration the instance was created with.
func (in *Instance) Config() config.Config { return in.cfg }

// State returns the current lifecycle state.
func (in *Instance) State() State { return State(in.state.Load()) }

// Ready is closed once resolution finished, successfully or not.
func (in *Instance) Ready() <-chan struct{} { return in.ready }

// Done is closed when the instance goroutine has exited.
func (in *Instance) Done() <-chan struct{} { return in.done }

// Err returns the resolution error, if resolution failed.
func (in *Instance) Err() error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.err
}

// WorkspaceToken returns the resolved token, empty before resolution.
func (in *Instance) WorkspaceToken() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.workspaceToken
}

// StoreKey returns the namespace key, empty before resolution.
func (in *Instance) StoreKey() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.storeKey
}

// WaitReady blocks until resolution finished or ctx is done.
func (in *Instance) WaitReady(ctx context.Context) error {
	select {
	case <-in.ready:
		return in.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels in-flight network calls, applies operations still in the
// mailbox to storage and waits for the goroutine to exit. Stopping does not
// purge persisted state.
func (in *Instance) Stop(ctx context.Context) error {
	in.stopOnce.Do(func() {
		close(in.closing)
		in.cancel()
	})
	// Never started: there is no goroutine to wait for.
	in.startOnce.Do(func() {
		in.setState(StateClosed)
		in.markReady()
		close(in.done)
	})
	select {
	case <-in.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the instance and waits for it.
func (in *Instance) Close() error { return in.Stop(context.Background()) }

func (in *Instance) setState(s State) { in.state.Store(int32(s)) }

func (in *Instance) markReady() { in.readyOnce.Do(func() { close(in.ready) }) }

// post enqueues fn without blocking.
func (in *Instance) post(fn op) error {
	select {
	case <-in.closing:
		return ErrClosed
	case <-in.done:
		return ErrClosed
	default:
	}
	select {
	case in.mailbox <- fn:
		return nil
	default:
		in.log.Warn("mailbox full, dropping call", log.Int("capacity", cap(in.mailbox)))
		in.m.EventDropped(in.name, metrics.ReasonQueueFull)
		return ErrQueueFull
	}
}

type result[T any] struct {
	v   T
	err error
}

// call posts fn and waits for its result.
func call[T any](ctx context.Context, in *Instance, fn func(in *Instance) (T, error)) (T, error) {
	var zero T
	reply := make(chan result[T], 1)
	if err := in.post(func(in *Instance) {
		v, err := fn(in)
		reply <- result[T]{v, err}
	}); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-in.done:
		select {
		case r := <-reply:
			return r.v, r.err
		default:
			return zero, ErrClosed
		}
	}
}

func (in *Instance) run() {
	defer close(in.done)
	defer in.markReady()
	defer in.setState(StateClosed)

	if err := in.resolve(); err != nil {
		in.mu.Lock()
		in.err = err
		in.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			in.log.Error("resolution failed", log.Err(err))
		}
		in.cancel()
		return
	}

	var tick <-chan time.Time
	if in.cfg.UploadInterval > 0 {
		t := time.NewTicker(in.cfg.UploadInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-in.closing:
			in.drain()
			return
		case fn := <-in.mailbox:
			fn(in)
		case <-tick:
			if in.unsent > 0 {
				_ = in.upload(in.ctx)
			}
		}
	}
}

// drain applies queued operations without uploading; their messages stay
// in the outbox for the next process.
func (in *Instance) drain() {
	in.draining = true
	for {
		select {
		case fn := <-in.mailbox:
			fn(in)
		default:
			if in.unsent > 0 {
				in.log.Info("stopped with pending messages", log.Int("pending", in.unsent))
			}
			return
		}
	}
}
