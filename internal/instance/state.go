package instance

import (
	"context"
	"maps"
	"slices"

	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/types"
)

// SetOptOut toggles tracking. While opted out, events are dropped; the
// opt-out message itself is always sent.
func (in *Instance) SetOptOut(optOut bool) error {
	return in.post(func(in *Instance) {
		v := optOut
		_ = in.enqueue(transport.Message{Type: types.MessageOptOut, OptOut: &v})
		_ = in.update(func(r *persist.Record) { r.OptOut = optOut })
		in.afterEnqueue()
	})
}

// OptOut reports the persisted opt-out flag.
func (in *Instance) OptOut(ctx context.Context) (bool, error) {
	return call(ctx, in, func(in *Instance) (bool, error) {
		var out bool
		in.view(func(r *persist.Record) { out = r.OptOut })
		return out, nil
	})
}

// SetIntegrationAttribute stores attributes for an integration id,
// replacing previous ones. A nil map removes them.
func (in *Instance) SetIntegrationAttribute(integrationID string, attrs map[string]string) error {
	if integrationID == "" {
		return ErrInvalidEvent
	}
	attrs = maps.Clone(attrs)
	return in.post(func(in *Instance) {
		_ = in.update(func(r *persist.Record) {
			if attrs == nil {
				delete(r.IntegrationAttributes, integrationID)
				return
			}
			if r.IntegrationAttributes == nil {
				r.IntegrationAttributes = make(map[string]map[string]string)
			}
			r.IntegrationAttributes[integrationID] = attrs
		})
	})
}

// IntegrationAttributes returns the attributes stored for integrationID.
func (in *Instance) IntegrationAttributes(ctx context.Context, integrationID string) (map[string]string, error) {
	return call(ctx, in, func(in *Instance) (map[string]string, error) {
		var out map[string]string
		in.view(func(r *persist.Record) { out = maps.Clone(r.IntegrationAttributes[integrationID]) })
		return out, nil
	})
}

// Snapshot is a copy of the persisted state of the instance.
type Snapshot struct {
	APIKey string
	// SharedWith lists every apiKey attached to the namespace record,
	// including this one.
	SharedWith     []string
	WorkspaceToken string
	StoreKey       string
	DeviceID       string
	CurrentMPID    string
	SessionID      string
	OptOut         bool
	ServerStore    []string
	Pending        int
}

// Snapshot returns a copy of the shared record as this instance sees it.
func (in *Instance) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, in, func(in *Instance) (Snapshot, error) {
		s := Snapshot{
			APIKey:         in.apiKey,
			WorkspaceToken: in.WorkspaceToken(),
			StoreKey:       in.StoreKey(),
			Pending:        in.unsent,
		}
		in.view(func(r *persist.Record) {
			s.SharedWith = slices.Clone(r.APIKeys)
			s.DeviceID = r.DeviceID
			s.CurrentMPID = r.CurrentMPID
			s.SessionID = r.Session.ID
			s.OptOut = r.OptOut
			for k := range r.ServerStore {
				s.ServerStore = append(s.ServerStore, k)
			}
		})
		slices.Sort(s.ServerStore)
		return s, nil
	})
}

// DeviceID returns the device id of the namespace record.
func (in *Instance) DeviceID(ctx context.Context) (string, error) {
	return call(ctx, in, func(in *Instance) (string, error) {
		var out string
		in.view(func(r *persist.Record) { out = r.DeviceID })
		return out, nil
	})
}

// SetAppName overrides the app name stamped on subsequent messages.
func (in *Instance) SetAppName(name string) error {
	return in.post(func(in *Instance) { in.appName = name })
}

// SetAppVersion overrides the app version stamped on subsequent messages.
func (in *Instance) SetAppVersion(version string) error {
	return in.post(func(in *Instance) { in.appVersion = version })
}

// AppInfo returns the app name and version currently stamped on messages.
func (in *Instance) AppInfo(ctx context.Context) (name, version string, err error) {
	type info struct{ name, version string }
	v, err := call(ctx, in, func(in *Instance) (info, error) { return info{in.appName, in.appVersion}, nil })
	return v.name, v.version, err
}
