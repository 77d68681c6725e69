// Package registry maps instance names to running instances. The empty
// name and instance.DefaultName address the same default entry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/mptrack/internal/instance"
	"github.com/rzbill/mptrack/pkg/log"
)

var (
	// ErrUnknownInstance is returned when no instance is registered under a name.
	ErrUnknownInstance = errors.New("registry: unknown instance")
	// ErrDuplicateInstance is returned by RegisterNew when the name is taken.
	ErrDuplicateInstance = errors.New("registry: instance already registered")
)

// Purger deletes all persisted namespaces.
type Purger interface {
	PurgeAll(ctx context.Context) (int, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
	purger    Purger
	log       log.Logger
}

// New returns an empty registry. purger may be nil, in which case ResetAll
// only stops instances.
func New(purger Purger, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		instances: make(map[string]*instance.Instance),
		purger:    purger,
		log:       logger.With(log.Component("registry")),
	}
}

// Normalize maps the empty name to instance.DefaultName.
func Normalize(name string) string {
	if name == "" {
		return instance.DefaultName
	}
	return name
}

// Register stores inst under its name, replacing and stopping any previous
// instance of that name. The replaced instance's storage is kept. Register
// returns once the replaced instance has stopped, so callers start inst
// afterwards and the two never run side by side.
func (r *Registry) Register(ctx context.Context, inst *instance.Instance) (replaced *instance.Instance, err error) {
	name := Normalize(inst.Name())
	r.mu.Lock()
	replaced = r.instances[name]
	r.instances[name] = inst
	r.mu.Unlock()

	if replaced != nil && replaced != inst {
		r.log.Info("replacing instance", log.Str("instance", name))
		if err := replaced.Stop(ctx); err != nil {
			return replaced, fmt.Errorf("registry: stop replaced %q: %w", name, err)
		}
	}
	return replaced, nil
}

// RegisterNew stores inst only if its name is free. A rejected inst should
// be closed without being started.
func (r *Registry) RegisterNew(inst *instance.Instance) error {
	name := Normalize(inst.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateInstance, name)
	}
	r.instances[name] = inst
	return nil
}

// Resolve returns the instance registered under name.
func (r *Registry) Resolve(name string) (*instance.Instance, error) {
	name = Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, name)
	}
	return inst, nil
}

// Remove stops and forgets the instance under name.
func (r *Registry) Remove(ctx context.Context, name string) error {
	name = Normalize(name)
	r.mu.Lock()
	inst, ok := r.instances[name]
	delete(r.instances, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInstance, name)
	}
	return inst.Stop(ctx)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.instances))
	for n := range r.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// StopAll stops every instance and clears the registry without touching
// storage.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.stopLocked(ctx)
	clear(r.instances)
	return err
}

// ResetAll stops every instance, waits for their goroutines to exit, purges
// every persisted namespace and clears the registry. The registry lock is
// held throughout so no instance can be registered mid-reset.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.stopLocked(ctx); err != nil {
		return err
	}
	clear(r.instances)
	if r.purger == nil {
		return nil
	}
	n, err := r.purger.PurgeAll(ctx)
	if err != nil {
		return fmt.Errorf("registry: purge: %w", err)
	}
	r.log.Info("reset complete", log.Int("namespaces", n))
	return nil
}

func (r *Registry) stopLocked(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range r.instances {
		g.Go(func() error { return inst.Stop(gctx) })
	}
	return g.Wait()
}
