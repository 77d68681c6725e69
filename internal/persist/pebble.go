package persist

import (
	"context"
	"errors"

	pebblestore "github.com/rzbill/mptrack/internal/storage/pebble"
)

// Pebble is the durable Driver.
type Pebble struct {
	db *pebblestore.DB
}

// NewPebble wraps an open DB. Close closes the DB.
func NewPebble(db *pebblestore.DB) *Pebble { return &Pebble{db: db} }

func (p *Pebble) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := p.db.Get(ctx, key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (p *Pebble) Set(ctx context.Context, key, value []byte) error {
	return p.db.Set(ctx, key, value)
}

func (p *Pebble) Delete(ctx context.Context, key []byte) error {
	return p.db.Delete(ctx, key)
}

func (p *Pebble) Write(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return p.db.Update(ctx, func(b pebblestore.Batch) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = b.Delete(op.Key)
			} else {
				err = b.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pebble) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return p.db.Scan(ctx, prefix, func(k, v []byte) bool {
		return fn(append([]byte(nil), k...), append([]byte(nil), v...))
	})
}

func (p *Pebble) DeletePrefix(ctx context.Context, prefix []byte) error {
	return p.db.DeletePrefix(ctx, prefix)
}

func (p *Pebble) Close() error { return p.db.Close() }
