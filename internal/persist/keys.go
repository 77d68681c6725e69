package persist

import "encoding/binary"

// Keyspace helpers.
//
// Layout:
// - {prefix}{env}_{workspaceToken}                       (persisted record)
// - ns/{storeKey}/outbox/{apiKey}/m                      (outbox metadata: lastSeq)
// - ns/{storeKey}/outbox/{apiKey}/e/{seq_be8}            (pending messages)
//
// The record key is the bare store key so it lines up with the browser
// storage names other SDKs use for the same workspace.

// StorePrefix is the fixed prefix of every store key.
const StorePrefix = "mprtcl-"

// Production keys match the names browser SDKs use for the workspace;
// development gets its own tag so the two environments never share state.
// ("prodv4" is taken by the browser product-bag store.)
const (
	prodEnvTag = "v4"
	devEnvTag  = "devv4"
)

var (
	sep        = byte('/')
	nsPrefix   = []byte("ns/")
	outboxSeg  = []byte("/outbox/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

// Namespace identifies one partition of persisted state. Instance names
// and apiKeys are deliberately absent: two instances resolving to the same
// (environment, workspace token) share a namespace.
type Namespace struct {
	Development    bool
	WorkspaceToken string
}

// EnvTag returns the environment segment of the store key.
func (n Namespace) EnvTag() string {
	if n.Development {
		return devEnvTag
	}
	return prodEnvTag
}

// Key returns prefix + env + "_" + workspaceToken.
func (n Namespace) Key() string {
	return StorePrefix + n.EnvTag() + "_" + n.WorkspaceToken
}

// StoreKey is a convenience for Namespace{...}.Key().
func StoreKey(development bool, workspaceToken string) string {
	return Namespace{Development: development, WorkspaceToken: workspaceToken}.Key()
}

// KeyRecord builds the persisted record key.
func KeyRecord(storeKey string) []byte { return []byte(storeKey) }

// KeyDataPrefix is the range prefix of everything else stored for storeKey.
func KeyDataPrefix(storeKey string) []byte {
	k := make([]byte, 0, len(nsPrefix)+len(storeKey)+1)
	k = append(k, nsPrefix...)
	k = append(k, storeKey...)
	k = append(k, sep)
	return k
}

func outboxPrefix(storeKey, apiKey string) []byte {
	k := make([]byte, 0, len(storeKey)+len(apiKey)+16)
	k = append(k, nsPrefix...)
	k = append(k, storeKey...)
	k = append(k, outboxSeg...)
	k = append(k, apiKey...)
	return k
}

// KeyOutboxMeta builds the outbox metadata key.
func KeyOutboxMeta(storeKey, apiKey string) []byte {
	return append(outboxPrefix(storeKey, apiKey), metaSuffix...)
}

// KeyOutboxEntryPrefix is the range prefix of pending entries.
func KeyOutboxEntryPrefix(storeKey, apiKey string) []byte {
	return append(outboxPrefix(storeKey, apiKey), entrySeg...)
}

// KeyOutboxEntry builds the entry key with a big-endian sequence for ordering.
func KeyOutboxEntry(storeKey, apiKey string, seq uint64) []byte {
	k := KeyOutboxEntryPrefix(storeKey, apiKey)
	return appendBE8(k, seq)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}
