package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/mptrack/pkg/log"
)

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble. A crash may lose recent
	// events that were acknowledged to the caller.
	FsyncModeNever
)

// String returns the flag spelling of m.
func (m FsyncMode) String() string {
	switch m {
	case FsyncModeAlways:
		return "always"
	case FsyncModeInterval:
		return "interval"
	case FsyncModeNever:
		return "never"
	default:
		return ""
	}
}

// ParseFsyncMode maps always|interval|never to a FsyncMode. Empty input
// yields FsyncModeUnspecified.
func ParseFsyncMode(s string) (FsyncMode, error) {
	for _, m := range []FsyncMode{FsyncModeUnspecified, FsyncModeAlways, FsyncModeInterval, FsyncModeNever} {
		if m.String() == s {
			return m, nil
		}
	}
	return FsyncModeUnspecified, fmt.Errorf("pebble: invalid fsync mode %q; use always|interval|never", s)
}

const defaultFsyncInterval = 5 * time.Millisecond

// Options configures Open.
type Options struct {
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval and
	// FsyncModeUnspecified. Defaults to 5ms.
	FsyncInterval time.Duration
	// CompactOnPurge compacts the range removed by DeletePrefix so purged
	// namespaces release disk space promptly.
	CompactOnPurge bool
	// Logger receives Pebble's own log output. Optional.
	Logger log.Logger
	// Metrics observes reads and commits. Optional.
	Metrics MetricsHook
	// PebbleOptions allows advanced tuning. Open sets WALMinSyncInterval
	// and Logger on it.
	PebbleOptions *pebble.Options
}

// MetricsHook observes storage latencies and sizes.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveWrite(time.Duration, int)            {}
func (noopMetrics) ObserveRead(time.Duration, int)             {}
func (noopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("pebble: key not found")

// DB is a Pebble database with a fixed fsync policy.
type DB struct {
	inner   *pebble.DB
	wo      *pebble.WriteOptions
	compact bool
	metrics MetricsHook
}

// Open creates or opens the database in opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	interval := opts.FsyncInterval
	if interval <= 0 {
		interval = defaultFsyncInterval
	}
	wo := pebble.NoSync
	switch opts.Fsync {
	case FsyncModeAlways:
		wo = pebble.Sync
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}
	if opts.Logger != nil {
		po.Logger = pebbleLogger{l: opts.Logger.With(log.Component("pebble"))}
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	db := &DB{inner: inner, wo: wo, compact: opts.CompactOnPurge, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = noopMetrics{}
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Batch collects mutations applied atomically by Update.
type Batch struct {
	b *pebble.Batch
}

// Set stages key=value.
func (b Batch) Set(key, value []byte) error { return b.b.Set(key, value, nil) }

// Delete stages the removal of key.
func (b Batch) Delete(key []byte) error { return b.b.Delete(key, nil) }

// Update runs fn against a fresh batch and commits it when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(Batch{b: b}); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return db.commit(b)
}

func (db *DB) commit(b *pebble.Batch) error {
	start := time.Now()
	if err := b.Commit(db.wo); err != nil {
		return err
	}
	db.metrics.ObserveBatchCommit(time.Since(start), int(b.Count()), b.Len())
	return nil
}

// Set writes a single key.
func (db *DB) Set(ctx context.Context, key, value []byte) error {
	start := time.Now()
	if err := db.Update(ctx, func(b Batch) error { return b.Set(key, value) }); err != nil {
		return err
	}
	db.metrics.ObserveWrite(time.Since(start), len(key)+len(value))
	return nil
}

// Delete removes a single key.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	return db.Update(ctx, func(b Batch) error { return b.Delete(key) })
}

// Get returns a copy of the value stored under key.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists (prefix of all 0xFF bytes).
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Scan calls fn for every key with the given prefix in ascending order
// until fn returns false or ctx is done. Key and value are only valid
// during the callback.
func (db *DB) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// DeletePrefix removes every key with the given prefix with one range
// tombstone.
func (db *DB) DeletePrefix(ctx context.Context, prefix []byte) error {
	end := PrefixUpperBound(prefix)
	if end == nil {
		return errors.New("pebble: unbounded prefix delete")
	}
	if err := db.Update(ctx, func(b Batch) error { return b.b.DeleteRange(prefix, end, nil) }); err != nil {
		return err
	}
	if db.compact {
		return db.inner.Compact(prefix, end, true)
	}
	return nil
}

// DiskUsage reports the bytes used by the database files.
func (db *DB) DiskUsage() uint64 {
	return db.inner.Metrics().DiskSpaceUsage()
}

// pebbleLogger adapts log.Logger to pebble.Logger.
type pebbleLogger struct{ l log.Logger }

func (p pebbleLogger) Infof(format string, args ...interface{}) {
	if p.l.Enabled(log.DebugLevel) {
		p.l.Debug(fmt.Sprintf(format, args...))
	}
}

func (p pebbleLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...interface{}) {
	p.l.Fatal(fmt.Sprintf(format, args...))
}
