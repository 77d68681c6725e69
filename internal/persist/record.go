package persist

import (
	"encoding/json"
	"slices"

	"github.com/rzbill/mptrack/pkg/consent"
)

// Record is the persisted state of one namespace: device, session and the
// users seen on it. It is stored as JSON under the bare store key. Every
// apiKey resolving to the namespace shares it.
type Record struct {
	APIKeys     []string         `json:"apiKeys"`
	DeviceID    string           `json:"deviceId"`
	CurrentMPID string           `json:"currentMpid,omitempty"`
	Session     Session          `json:"session"`
	Users       map[string]*User `json:"users,omitempty"`
	OptOut      bool             `json:"optOut,omitempty"`
	// ServerStore accumulates the opaque "store" objects returned by uploads.
	ServerStore           map[string]json.RawMessage   `json:"serverStore,omitempty"`
	IntegrationAttributes map[string]map[string]string `json:"integrationAttributes,omitempty"`
	CreatedAtMs           int64                        `json:"createdAtMs"`
	UpdatedAtMs           int64                        `json:"updatedAtMs"`
}

// Session is the persisted session state.
type Session struct {
	ID          string         `json:"id,omitempty"`
	StartMs     int64          `json:"startMs,omitempty"`
	LastEventMs int64          `json:"lastEventMs,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// User is what is known about one MPID.
type User struct {
	IsLoggedIn  bool              `json:"isLoggedIn"`
	Identities  map[string]string `json:"identities,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
	Consent     *consent.State    `json:"consent,omitempty"`
	FirstSeenMs int64             `json:"firstSeenMs,omitempty"`
	LastSeenMs  int64             `json:"lastSeenMs,omitempty"`
}

// AddAPIKey records apiKey as a user of the namespace. It reports whether
// the key was new.
func (r *Record) AddAPIKey(apiKey string) bool {
	if slices.Contains(r.APIKeys, apiKey) {
		return false
	}
	r.APIKeys = append(r.APIKeys, apiKey)
	slices.Sort(r.APIKeys)
	return true
}

// MergeServerStore folds an upload response's store object into r.
func (r *Record) MergeServerStore(store map[string]json.RawMessage) {
	if len(store) == 0 {
		return
	}
	if r.ServerStore == nil {
		r.ServerStore = make(map[string]json.RawMessage, len(store))
	}
	for k, v := range store {
		r.ServerStore[k] = v
	}
}

// User returns the user for mpid, creating it when absent.
func (r *Record) User(mpid string) *User {
	if r.Users == nil {
		r.Users = make(map[string]*User)
	}
	u, ok := r.Users[mpid]
	if !ok {
		u = &User{}
		r.Users[mpid] = u
	}
	return u
}
