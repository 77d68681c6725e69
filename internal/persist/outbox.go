package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// OutboxEntry is one pending message.
type OutboxEntry struct {
	Seq          uint64
	EnqueuedAtMs int64
	Payload      []byte
}

// Outbox is the durable, ordered queue of messages not yet accepted by the
// collection endpoint, for one (storeKey, apiKey) pair.
type Outbox struct {
	d        Driver
	storeKey string
	apiKey   string

	mu      sync.Mutex
	lastSeq uint64

	// sending serializes Drain so two instances sharing the outbox never
	// deliver the same entry twice.
	sending sync.Mutex
}

// OpenOutbox initializes an Outbox and loads the last sequence from metadata (if any).
func OpenOutbox(ctx context.Context, d Driver, storeKey, apiKey string) (*Outbox, error) {
	o := &Outbox{d: d, storeKey: storeKey, apiKey: apiKey}
	meta, err := d.Get(ctx, KeyOutboxMeta(storeKey, apiKey))
	switch {
	case err == nil && len(meta) >= 8:
		o.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return o, nil
}

// Append appends payloads as a single atomic write. Returns assigned seq numbers.
func (o *Outbox) Append(ctx context.Context, payloads ...[]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UnixMilli()
	next := o.lastSeq
	ops := make([]Op, 0, len(payloads)+1)
	seqs := make([]uint64, len(payloads))
	for i, p := range payloads {
		next++
		ops = append(ops, Op{Key: KeyOutboxEntry(o.storeKey, o.apiKey, next), Value: encodeEntry(now, p)})
		seqs[i] = next
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	ops = append(ops, Op{Key: KeyOutboxMeta(o.storeKey, o.apiKey), Value: meta[:]})

	if err := o.d.Write(ctx, ops); err != nil {
		return nil, err
	}
	o.lastSeq = next
	return seqs, nil
}

// Pending returns up to limit entries in sequence order. limit <= 0 means all.
// Corrupt entries are skipped and reported via ErrCorrupt alongside the
// readable ones; their keys are returned in the second slice so callers can
// drop them.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]OutboxEntry, [][]byte, error) {
	prefix := KeyOutboxEntryPrefix(o.storeKey, o.apiKey)
	var (
		out     []OutboxEntry
		corrupt [][]byte
	)
	err := o.d.Scan(ctx, prefix, func(k, v []byte) bool {
		if len(k) != len(prefix)+8 {
			return true
		}
		at, payload, ok := decodeEntry(v)
		if !ok {
			corrupt = append(corrupt, append([]byte(nil), k...))
			return true
		}
		out = append(out, OutboxEntry{Seq: binary.BigEndian.Uint64(k[len(prefix):]), EnqueuedAtMs: at, Payload: payload})
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, nil, err
	}
	if len(corrupt) > 0 {
		return out, corrupt, ErrCorrupt
	}
	return out, nil, nil
}

// Ack removes delivered entries.
func (o *Outbox) Ack(ctx context.Context, seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	ops := make([]Op, len(seqs))
	for i, s := range seqs {
		ops[i] = Op{Key: KeyOutboxEntry(o.storeKey, o.apiKey, s), Delete: true}
	}
	return o.d.Write(ctx, ops)
}

// Drop removes raw keys, used for corrupt entries.
func (o *Outbox) Drop(ctx context.Context, keys [][]byte) error {
	ops := make([]Op, len(keys))
	for i, k := range keys {
		ops[i] = Op{Key: k, Delete: true}
	}
	return o.d.Write(ctx, ops)
}

// Len counts pending entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	prefix := KeyOutboxEntryPrefix(o.storeKey, o.apiKey)
	n := 0
	err := o.d.Scan(ctx, prefix, func(k, _ []byte) bool {
		if len(k) == len(prefix)+8 {
			n++
		}
		return true
	})
	return n, err
}

// Drain hands pending entries to send in batches of up to limit and acks
// each batch send accepts, until the outbox is empty or send fails. Corrupt
// entries are dropped. Only one Drain runs per outbox at a time.
func (o *Outbox) Drain(ctx context.Context, limit int, send func([]OutboxEntry) error) (dropped int, err error) {
	o.sending.Lock()
	defer o.sending.Unlock()
	for {
		entries, corrupt, err := o.Pending(ctx, limit)
		if errors.Is(err, ErrCorrupt) {
			if derr := o.Drop(ctx, corrupt); derr != nil {
				return dropped, derr
			}
			dropped += len(corrupt)
		} else if err != nil {
			return dropped, err
		}
		if len(entries) == 0 {
			return dropped, nil
		}
		if err := send(entries); err != nil {
			return dropped, err
		}
		seqs := make([]uint64, len(entries))
		for i, e := range entries {
			seqs[i] = e.Seq
		}
		if err := o.Ack(ctx, seqs...); err != nil {
			return dropped, err
		}
		if limit <= 0 || len(entries) < limit {
			return dropped, nil
		}
	}
}

// LastSeq returns the highest sequence assigned so far.
func (o *Outbox) LastSeq() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeq
}
