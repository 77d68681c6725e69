package instance

import (
	"context"
	"maps"
	"time"

	"github.com/rzbill/mptrack/internal/identity"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/consent"
	"github.com/rzbill/mptrack/pkg/log"
	"github.com/rzbill/mptrack/pkg/types"
)

// User is the current user of an instance.
type User struct {
	MPID       string
	IsLoggedIn bool
	Identities map[string]string
	Attributes map[string]any
	Consent    consent.State
}

// Identity runs identity calls on its instance.
type Identity struct{ in *Instance }

// Identity returns the identity API of in.
func (in *Instance) Identity() Identity { return Identity{in: in} }

// Identify resolves the user for the given identities.
func (id Identity) Identify(ctx context.Context, req identity.Request) (identity.Result, error) {
	return id.do(ctx, identity.Identify, req)
}

// Login switches to the user for the given identities.
func (id Identity) Login(ctx context.Context, req identity.Request) (identity.Result, error) {
	return id.do(ctx, identity.Login, req)
}

// Logout switches back to an anonymous user.
func (id Identity) Logout(ctx context.Context, req identity.Request) (identity.Result, error) {
	return id.do(ctx, identity.Logout, req)
}

// Modify changes identities of the current user.
func (id Identity) Modify(ctx context.Context, req identity.Request) (identity.Result, error) {
	return id.do(ctx, identity.Modify, req)
}

func (id Identity) do(ctx context.Context, method identity.Method, req identity.Request) (identity.Result, error) {
	return call(ctx, id.in, func(in *Instance) (identity.Result, error) {
		return in.doIdentity(ctx, method, req)
	})
}

// CurrentUser returns the user the instance currently tracks as. The
// returned user has an empty MPID before the first identity call.
func (id Identity) CurrentUser(ctx context.Context) (User, error) {
	return call(ctx, id.in, func(in *Instance) (User, error) {
		var u User
		in.view(func(r *persist.Record) {
			u.MPID = r.CurrentMPID
			stored, ok := r.Users[u.MPID]
			if !ok || u.MPID == "" {
				return
			}
			u.IsLoggedIn = stored.IsLoggedIn
			u.Identities = maps.Clone(stored.Identities)
			u.Attributes = maps.Clone(stored.Attributes)
			if stored.Consent != nil {
				u.Consent = stored.Consent.Clone()
			}
		})
		return u, nil
	})
}

// SetConsentState replaces the consent state of the current user. Later
// messages carry it.
func (id Identity) SetConsentState(state consent.State) error {
	state = state.Clone()
	return id.in.post(func(in *Instance) {
		_ = in.update(func(r *persist.Record) {
			u := r.User(r.CurrentMPID)
			if state.Empty() {
				u.Consent = nil
				return
			}
			u.Consent = &state
		})
	})
}

// SetUserAttribute sets an attribute on the current user.
func (id Identity) SetUserAttribute(key string, value any) error {
	if key == "" {
		return ErrInvalidEvent
	}
	return id.in.post(func(in *Instance) { in.changeUserAttribute(key, value, false) })
}

// RemoveUserAttribute removes an attribute from the current user.
func (id Identity) RemoveUserAttribute(key string) error {
	if key == "" {
		return ErrInvalidEvent
	}
	return id.in.post(func(in *Instance) { in.changeUserAttribute(key, nil, true) })
}

func (in *Instance) changeUserAttribute(key string, value any, remove bool) {
	var (
		attrs  map[string]any
		optOut bool
	)
	if err := in.update(func(r *persist.Record) {
		u := r.User(r.CurrentMPID)
		if u.Attributes == nil {
			u.Attributes = make(map[string]any)
		}
		if remove {
			delete(u.Attributes, key)
		} else {
			u.Attributes[key] = value
		}
		attrs = maps.Clone(u.Attributes)
		optOut = r.OptOut
	}); err != nil || optOut {
		return
	}
	_ = in.enqueue(transport.Message{Type: types.MessageUserAttrs, UserAttrs: attrs})
	in.afterEnqueue()
}

// doIdentity runs on the instance goroutine.
func (in *Instance) doIdentity(ctx context.Context, method identity.Method, req identity.Request) (identity.Result, error) {
	callCtx := identity.Call{
		BaseURL:     in.cfg.IdentityURL,
		APIKey:      in.apiKey,
		Development: in.cfg.IsDevelopment(),
	}
	in.view(func(r *persist.Record) {
		callCtx.DeviceID = r.DeviceID
		callCtx.PreviousMPID = r.CurrentMPID
		if u, ok := r.Users[r.CurrentMPID]; ok {
			callCtx.Current = maps.Clone(u.Identities)
		}
	})
	cctx, cancel := mergeDone(ctx, in.ctx)
	defer cancel()
	res, err := in.rt.Identity().Do(cctx, method, callCtx, req)
	if err != nil {
		return identity.Result{}, err
	}
	now := time.Now().UnixMilli()
	var changed bool
	_ = in.update(func(r *persist.Record) {
		u := r.User(res.MPID)
		if u.FirstSeenMs == 0 {
			u.FirstSeenMs = now
		}
		u.LastSeenMs = now
		u.IsLoggedIn = res.IsLoggedIn
		if method == identity.Modify {
			u.Identities = maps.Clone(res.Identities)
		} else if len(res.Identities) > 0 {
			if u.Identities == nil {
				u.Identities = make(map[string]string, len(res.Identities))
			}
			maps.Copy(u.Identities, res.Identities)
		}
		changed = res.MPID != r.CurrentMPID
		r.CurrentMPID = res.MPID
	})
	if changed {
		in.log.Info("user changed", log.Str("method", string(method)), log.Str("mpid", res.MPID))
	}
	return res, nil
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
