package instance

import (
	"context"
	"maps"

	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/session"
	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/types"
)

// SetSessionAttribute sets an attribute on the current session, starting
// one if needed.
func (in *Instance) SetSessionAttribute(key string, value any) error {
	if key == "" {
		return ErrInvalidEvent
	}
	return in.post(func(in *Instance) {
		in.sessionChange(func(s *persist.Session) session.Transition {
			tr := in.sessions.Touch(s)
			in.sessions.SetAttribute(s, key, value)
			return tr
		})
	})
}

// StartNewSession ends the current session and starts another.
func (in *Instance) StartNewSession() error {
	return in.post(func(in *Instance) {
		in.sessionChange(in.sessions.StartNew)
		in.afterEnqueue()
	})
}

// EndSession ends the current session. The next event starts a new one.
func (in *Instance) EndSession() error {
	return in.post(func(in *Instance) {
		tr := in.sessionChange(func(s *persist.Session) session.Transition {
			return session.Transition{Ended: in.sessions.End(s)}
		})
		if tr.Ended != nil {
			in.afterEnqueue()
		}
	})
}

// SessionID returns the id of the current session, empty when none is open.
func (in *Instance) SessionID(ctx context.Context) (string, error) {
	return call(ctx, in, func(in *Instance) (string, error) {
		var id string
		in.view(func(r *persist.Record) {
			if in.sessions.Active(&r.Session) {
				id = r.Session.ID
			}
		})
		return id, nil
	})
}

// ensureSession touches the session, emitting start and end messages when
// it rolls over.
func (in *Instance) ensureSession() {
	in.sessionChange(in.sessions.Touch)
}

// sessionChange applies fn to the shared session and enqueues the messages
// for the resulting transition.
func (in *Instance) sessionChange(fn func(s *persist.Session) session.Transition) session.Transition {
	var (
		tr     session.Transition
		optOut bool
	)
	if err := in.update(func(r *persist.Record) {
		tr = fn(&r.Session)
		optOut = r.OptOut
	}); err != nil {
		return session.Transition{}
	}
	if optOut {
		return tr
	}
	if tr.Ended != nil {
		in.enqueueSessionEnd(tr.Ended)
	}
	if tr.Started {
		_ = in.enqueue(transport.Message{Type: types.MessageSessionStart})
	}
	return tr
}

func (in *Instance) enqueueSessionEnd(s *persist.Session) {
	_ = in.enqueue(transport.Message{
		Type:            types.MessageSessionEnd,
		SessionID:       s.ID,
		SessionStartMs:  s.StartMs,
		SessionLengthMs: s.LastEventMs - s.StartMs,
		SessionAttrs:    maps.Clone(s.Attributes),
	})
}
