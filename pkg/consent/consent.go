// Package consent builds the privacy consent state attached to a user:
// GDPR consents keyed by purpose and the single CCPA data-sale consent.
// A State is a value; setters return a modified copy.
package consent

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// CCPAPurpose is the only purpose CCPA consent is recorded under.
const CCPAPurpose = "data_sale_opt_out"

var (
	ErrInvalidPurpose = errors.New("consent: invalid purpose")
	ErrInvalidConsent = errors.New("consent: invalid consent")
)

// Consent is one consent decision.
type Consent struct {
	Consented   bool   `json:"c"`
	TimestampMs int64  `json:"ts"`
	Document    string `json:"d,omitempty"`
	Location    string `json:"l,omitempty"`
	HardwareID  string `json:"h,omitempty"`
}

// Now is the clock used for consents created without a timestamp.
var Now = func() int64 { return time.Now().UnixMilli() }

// NewGDPR builds a GDPR consent. A non-positive timestamp means now.
func NewGDPR(consented bool, timestampMs int64, document, location, hardwareID string) (Consent, error) {
	return newConsent(consented, timestampMs, document, location, hardwareID)
}

// NewCCPA builds a CCPA data-sale consent. A non-positive timestamp means now.
func NewCCPA(consented bool, timestampMs int64, document, location, hardwareID string) (Consent, error) {
	return newConsent(consented, timestampMs, document, location, hardwareID)
}

func newConsent(consented bool, ts int64, document, location, hardwareID string) (Consent, error) {
	if ts < 0 {
		return Consent{}, fmt.Errorf("%w: negative timestamp", ErrInvalidConsent)
	}
	if ts == 0 {
		ts = Now()
	}
	return Consent{
		Consented:   consented,
		TimestampMs: ts,
		Document:    document,
		Location:    location,
		HardwareID:  hardwareID,
	}, nil
}

// State is the full consent state of one user.
type State struct {
	GDPR map[string]Consent `json:"gdpr,omitempty"`
	CCPA map[string]Consent `json:"ccpa,omitempty"`
}

// NewState returns an empty State.
func NewState() State { return State{} }

// NormalizePurpose lowercases and trims purpose.
func NormalizePurpose(purpose string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(purpose))
	if p == "" {
		return "", fmt.Errorf("%w: purpose is required", ErrInvalidPurpose)
	}
	return p, nil
}

// AddGDPR returns a copy of s with c recorded for purpose.
func (s State) AddGDPR(purpose string, c Consent) (State, error) {
	p, err := NormalizePurpose(purpose)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	if out.GDPR == nil {
		out.GDPR = make(map[string]Consent, 1)
	}
	out.GDPR[p] = c
	return out, nil
}

// RemoveGDPR returns a copy of s without purpose.
func (s State) RemoveGDPR(purpose string) State {
	p, err := NormalizePurpose(purpose)
	if err != nil {
		return s
	}
	out := s.Clone()
	delete(out.GDPR, p)
	if len(out.GDPR) == 0 {
		out.GDPR = nil
	}
	return out
}

// GDPRConsent returns the consent recorded for purpose.
func (s State) GDPRConsent(purpose string) (Consent, bool) {
	p, err := NormalizePurpose(purpose)
	if err != nil {
		return Consent{}, false
	}
	c, ok := s.GDPR[p]
	return c, ok
}

// SetCCPA returns a copy of s with the CCPA consent set.
func (s State) SetCCPA(c Consent) State {
	out := s.Clone()
	out.CCPA = map[string]Consent{CCPAPurpose: c}
	return out
}

// RemoveCCPA returns a copy of s without CCPA consent.
func (s State) RemoveCCPA() State {
	out := s.Clone()
	out.CCPA = nil
	return out
}

// CCPAConsent returns the CCPA consent, if set.
func (s State) CCPAConsent() (Consent, bool) {
	c, ok := s.CCPA[CCPAPurpose]
	return c, ok
}

// Empty reports whether no consent is recorded.
func (s State) Empty() bool { return len(s.GDPR) == 0 && len(s.CCPA) == 0 }

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{GDPR: maps.Clone(s.GDPR), CCPA: maps.Clone(s.CCPA)}
}
