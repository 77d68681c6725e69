package persist

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("persist: not found")
	ErrCorrupt  = errors.New("persist: corrupt entry")
)

// Op is one mutation inside an atomic Write.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Driver is the key-value backend shared by every instance in a process.
// Implementations must be safe for concurrent use.
type Driver interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Write applies ops atomically.
	Write(ctx context.Context, ops []Op) error
	// Scan visits keys with prefix in ascending byte order until fn returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error
	DeletePrefix(ctx context.Context, prefix []byte) error
	Close() error
}
