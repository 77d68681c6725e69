package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mptrack/internal/persist"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(c *fakeClock) *Tracker {
	n := 0
	return NewTracker(time.Minute, WithClock(c.Now), WithIDGenerator(func() string {
		n++
		return "s" + string(rune('0'+n))
	}))
}

func TestTouchStartsAndResumes(t *testing.T) {
	c := &fakeClock{t: time.UnixMilli(1_000_000)}
	tr := newTracker(c)
	var s persist.Session

	got := tr.Touch(&s)
	assert.True(t, got.Started)
	assert.Nil(t, got.Ended)
	assert.Equal(t, "s1", s.ID)

	c.Advance(30 * time.Second)
	got = tr.Touch(&s)
	assert.False(t, got.Started)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, c.t.UnixMilli(), s.LastEventMs)
}

func TestTouchAfterTimeoutRollsSession(t *testing.T) {
	c := &fakeClock{t: time.UnixMilli(1_000_000)}
	tr := newTracker(c)
	var s persist.Session
	tr.Touch(&s)
	tr.SetAttribute(&s, "plan", "pro")

	c.Advance(2 * time.Minute)
	got := tr.Touch(&s)
	require.NotNil(t, got.Ended)
	assert.Equal(t, "s1", got.Ended.ID)
	assert.Equal(t, "pro", got.Ended.Attributes["plan"])
	assert.True(t, got.Started)
	assert.Equal(t, "s2", s.ID)
	assert.Empty(t, s.Attributes)
}

func TestStartNewAndEnd(t *testing.T) {
	c := &fakeClock{t: time.UnixMilli(5_000)}
	tr := newTracker(c)
	var s persist.Session

	got := tr.StartNew(&s)
	assert.Nil(t, got.Ended)
	assert.Equal(t, "s1", s.ID)

	got = tr.StartNew(&s)
	require.NotNil(t, got.Ended)
	assert.Equal(t, "s2", s.ID)

	ended := tr.End(&s)
	require.NotNil(t, ended)
	assert.Equal(t, "s2", ended.ID)
	assert.False(t, tr.Active(&s))
	assert.Nil(t, tr.End(&s))
}
