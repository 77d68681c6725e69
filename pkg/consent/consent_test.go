package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsentDefaultsTimestamp(t *testing.T) {
	prev := Now
	Now = func() int64 { return 42 }
	t.Cleanup(func() { Now = prev })

	c, err := NewGDPR(true, 0, "doc_v1", "example.com/signup", "hw1")
	require.NoError(t, err)
	assert.Equal(t, Consent{Consented: true, TimestampMs: 42, Document: "doc_v1", Location: "example.com/signup", HardwareID: "hw1"}, c)

	c, err = NewCCPA(false, 7, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.TimestampMs)

	_, err = NewGDPR(true, -1, "", "", "")
	assert.ErrorIs(t, err, ErrInvalidConsent)
}

func TestStateGDPRPurposes(t *testing.T) {
	c, err := NewGDPR(true, 1, "", "", "")
	require.NoError(t, err)

	empty := NewState()
	s, err := empty.AddGDPR("  Analytics ", c)
	require.NoError(t, err)
	assert.True(t, empty.Empty(), "the receiver is not modified")

	got, ok := s.GDPRConsent("analytics")
	require.True(t, ok)
	assert.True(t, got.Consented)

	_, err = s.AddGDPR(" ", c)
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	s = s.RemoveGDPR("ANALYTICS")
	assert.True(t, s.Empty())
}

func TestStateCCPA(t *testing.T) {
	c, err := NewCCPA(true, 1, "ccpa_doc", "", "")
	require.NoError(t, err)
	s := NewState().SetCCPA(c)

	got, ok := s.CCPAConsent()
	require.True(t, ok)
	assert.Equal(t, "ccpa_doc", got.Document)
	assert.Contains(t, s.CCPA, CCPAPurpose)

	s = s.RemoveCCPA()
	_, ok = s.CCPAConsent()
	assert.False(t, ok)
}
