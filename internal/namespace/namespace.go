package namespace

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rzbill/mptrack/internal/persist"
)

// Meta records a store namespace that some instance materialized, so that
// a reset can find and purge it even after the instance is gone.
type Meta struct {
	StoreKey       string   `json:"storeKey"`
	WorkspaceToken string   `json:"workspaceToken"`
	Development    bool     `json:"development"`
	APIKeys        []string `json:"apiKeys"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

var (
	nsMetaPrefix = []byte("nsmeta/")
)

// nsMetaKey builds metadata key for a namespace.
func nsMetaKey(storeKey string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(storeKey))
	k = append(k, nsMetaPrefix...)
	k = append(k, storeKey...)
	return k
}

// Ensure creates a namespace meta record if absent and adds apiKey to it,
// returning the effective meta. Idempotent.
func Ensure(ctx context.Context, d persist.Driver, ns persist.Namespace, apiKey string) (Meta, error) {
	storeKey := ns.Key()
	key := nsMetaKey(storeKey)
	var m Meta
	if b, err := d.Get(ctx, key); err == nil && len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			m = Meta{}
			// fallthrough to rewrite if corrupted
		}
	} else if err != nil && !errors.Is(err, persist.ErrNotFound) {
		return Meta{}, err
	}
	if m.StoreKey != "" && (apiKey == "" || containsKey(m.APIKeys, apiKey)) {
		return m, nil
	}
	if m.StoreKey == "" {
		m = Meta{
			StoreKey:       storeKey,
			WorkspaceToken: ns.WorkspaceToken,
			Development:    ns.Development,
			CreatedAtMs:    time.Now().UnixMilli(),
		}
	}
	if apiKey != "" {
		m.APIKeys = append(m.APIKeys, apiKey)
		sort.Strings(m.APIKeys)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := d.Set(ctx, key, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// List returns every recorded namespace ordered by store key.
func List(ctx context.Context, d persist.Driver) ([]Meta, error) {
	var out []Meta
	err := d.Scan(ctx, nsMetaPrefix, func(k, v []byte) bool {
		var m Meta
		if err := json.Unmarshal(v, &m); err != nil || m.StoreKey == "" {
			// keep the key so a corrupt meta can still be purged
			m = Meta{StoreKey: string(k[len(nsMetaPrefix):])}
		}
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeAll deletes every recorded namespace's data and its meta record.
func PurgeAll(ctx context.Context, d persist.Driver) (int, error) {
	metas, err := List(ctx, d)
	if err != nil {
		return 0, err
	}
	var errs []error
	purged := 0
	for _, m := range metas {
		if err := persist.Purge(ctx, d, m.StoreKey); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.Delete(ctx, nsMetaKey(m.StoreKey)); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

func containsKey(keys []string, k string) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
