// Package session tracks the session of one instance: its id, start time,
// last activity and attributes. State lives in the persisted record; the
// Tracker only decides when sessions start and end.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/mptrack/internal/persist"
)

// DefaultTimeout ends a session after this much inactivity.
const DefaultTimeout = 30 * time.Minute

// Transition reports what Touch did to the session.
type Transition struct {
	// Ended is the session closed by this call, if any.
	Ended *persist.Session
	// Started is true when a new session was opened.
	Started bool
}

// Tracker applies session rules to a persisted session.
type Tracker struct {
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithIDGenerator overrides the session id source.
func WithIDGenerator(gen func() string) Option { return func(t *Tracker) { t.newID = gen } }

// NewTracker returns a Tracker; a non-positive timeout uses DefaultTimeout.
func NewTracker(timeout time.Duration, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Tracker{
		timeout: timeout,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Now returns the tracker clock in milliseconds.
func (t *Tracker) Now() int64 { return t.now().UnixMilli() }

// Active reports whether s is open and not expired.
func (t *Tracker) Active(s *persist.Session) bool {
	if s.ID == "" {
		return false
	}
	return t.Now()-s.LastEventMs < t.timeout.Milliseconds()
}

// Touch records activity, ending an expired session and opening a new one
// when none is active.
func (t *Tracker) Touch(s *persist.Session) Transition {
	var tr Transition
	if s.ID != "" && !t.Active(s) {
		tr.Ended = t.End(s)
	}
	if s.ID == "" {
		t.start(s)
		tr.Started = true
		return tr
	}
	s.LastEventMs = t.Now()
	return tr
}

// StartNew ends the current session, if any, and opens a fresh one.
func (t *Tracker) StartNew(s *persist.Session) Transition {
	tr := Transition{Ended: t.End(s), Started: true}
	t.start(s)
	return tr
}

// End closes s and returns a copy of the closed session, or nil when no
// session was open.
func (t *Tracker) End(s *persist.Session) *persist.Session {
	if s.ID == "" {
		return nil
	}
	ended := *s
	*s = persist.Session{}
	return &ended
}

// SetAttribute stores a session attribute. Attributes reset with the session.
func (t *Tracker) SetAttribute(s *persist.Session, key string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

func (t *Tracker) start(s *persist.Session) {
	now := t.Now()
	*s = persist.Session{ID: t.newID(), StartMs: now, LastEventMs: now}
}
