package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store addresses the persisted state of one namespace. A process keeps a
// single Store per namespace so every instance resolving to it reads and
// writes the same cached record and the same outboxes.
type Store struct {
	d   Driver
	ns  Namespace
	key string

	mu       sync.Mutex
	rec      Record
	loaded   bool
	outboxes map[string]*Outbox
}

// Open returns the Store for ns. Nothing is written until Save, Update or an
// outbox append.
func Open(d Driver, ns Namespace) *Store {
	return &Store{d: d, ns: ns, key: ns.Key()}
}

// Key returns the store key.
func (s *Store) Key() string { return s.key }

// Namespace returns the namespace the store addresses.
func (s *Store) Namespace() Namespace { return s.ns }

// Load reads the persisted record from the driver, bypassing the cache.
// found is false when none exists yet.
func (s *Store) Load(ctx context.Context) (rec Record, found bool, err error) {
	b, err := s.d.Get(ctx, KeyRecord(s.key))
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: record %s: %v", ErrCorrupt, s.key, err)
	}
	return rec, true, nil
}

// Save writes rec as the record, stamping UpdatedAtMs, and replaces the
// cached copy.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, rec); err != nil {
		return err
	}
	s.rec, s.loaded = *rec, true
	return nil
}

// AttachResult reports what Attach found.
type AttachResult struct {
	// Created is true when no record existed.
	Created bool
	// Discarded holds the decode error of a corrupt record that was replaced.
	Discarded error
}

// Attach loads the record, creating it when absent, assigns a device id if
// it has none and adds apiKey to the keys sharing it.
func (s *Store) Attach(ctx context.Context, apiKey string, newDeviceID func() string) (AttachResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res AttachResult
	if !s.loaded {
		rec, found, err := s.Load(ctx)
		switch {
		case errors.Is(err, ErrCorrupt):
			res.Discarded = err
			rec, found = Record{}, false
		case err != nil:
			return res, err
		}
		res.Created = !found
		s.rec, s.loaded = rec, true
	}
	next := s.rec
	if next.DeviceID == "" {
		next.DeviceID = newDeviceID()
	}
	next.AddAPIKey(apiKey)
	if err := s.write(ctx, &next); err != nil {
		s.loaded = false
		return res, err
	}
	s.rec = next
	return res, nil
}

// View calls fn with the cached record. fn must not retain or modify it.
func (s *Store) View(ctx context.Context, fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	fn(&s.rec)
	return nil
}

// Update applies fn to the cached record and persists the result. A failed
// write drops the cache so the next access rereads storage.
func (s *Store) Update(ctx context.Context, fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	fn(&s.rec)
	if err := s.write(ctx, &s.rec); err != nil {
		s.loaded = false
		return err
	}
	return nil
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	rec, _, err := s.Load(ctx)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	s.rec, s.loaded = rec, true
	return nil
}

func (s *Store) write(ctx context.Context, rec *Record) error {
	now := time.Now().UnixMilli()
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = now
	}
	rec.UpdatedAtMs = now
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.d.Set(ctx, KeyRecord(s.key), b)
}

// Outbox returns the pending-message queue of apiKey inside this namespace.
// Repeated calls return the same Outbox.
func (s *Store) Outbox(ctx context.Context, apiKey string) (*Outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.outboxes[apiKey]; ok {
		return o, nil
	}
	o, err := OpenOutbox(ctx, s.d, s.key, apiKey)
	if err != nil {
		return nil, err
	}
	if s.outboxes == nil {
		s.outboxes = make(map[string]*Outbox)
	}
	s.outboxes[apiKey] = o
	return o, nil
}

// Purge deletes the record and every outbox of the namespace and drops the
// cached state.
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec, s.loaded, s.outboxes = Record{}, false, nil
	return Purge(ctx, s.d, s.key)
}

// Purge deletes everything persisted under storeKey.
func Purge(ctx context.Context, d Driver, storeKey string) error {
	if err := d.Delete(ctx, KeyRecord(storeKey)); err != nil {
		return err
	}
	return d.DeletePrefix(ctx, KeyDataPrefix(storeKey))
}
