package tracker

import (
	"context"

	"github.com/rzbill/mptrack/internal/instance"
	"github.com/rzbill/mptrack/pkg/types"
)

// The methods below forward to the default instance.

func (t *Tracker) LogEvent(name string, eventType types.EventType, attrs map[string]any) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.LogEvent(name, eventType, attrs)
}

func (t *Tracker) LogPageView(name string, attrs map[string]any) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.LogPageView(name, attrs)
}

func (t *Tracker) LogError(message string, attrs map[string]any) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.LogError(message, attrs)
}

// ECommerce returns the commerce API of the default instance.
func (t *Tracker) ECommerce() (instance.ECommerce, error) {
	in, err := t.GetInstance()
	if err != nil {
		return instance.ECommerce{}, err
	}
	return in.ECommerce(), nil
}

// Identity returns the identity API of the default instance.
func (t *Tracker) Identity() (instance.Identity, error) {
	in, err := t.GetInstance()
	if err != nil {
		return instance.Identity{}, err
	}
	return in.Identity(), nil
}

func (t *Tracker) SetSessionAttribute(key string, value any) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.SetSessionAttribute(key, value)
}

func (t *Tracker) SetOptOut(optOut bool) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.SetOptOut(optOut)
}

func (t *Tracker) StartNewSession() error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.StartNewSession()
}

func (t *Tracker) EndSession() error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.EndSession()
}

func (t *Tracker) Flush(ctx context.Context) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.Flush(ctx)
}

// Ready returns the default instance's ready channel.
func (t *Tracker) Ready() (<-chan struct{}, error) {
	in, err := t.GetInstance()
	if err != nil {
		return nil, err
	}
	return in.Ready(), nil
}

// DeviceID returns the device id shared by every instance on the default
// instance's workspace.
func (t *Tracker) DeviceID(ctx context.Context) (string, error) {
	in, err := t.GetInstance()
	if err != nil {
		return "", err
	}
	return in.DeviceID(ctx)
}

// SessionID returns the active session id, or "" when no session is active.
func (t *Tracker) SessionID(ctx context.Context) (string, error) {
	in, err := t.GetInstance()
	if err != nil {
		return "", err
	}
	return in.SessionID(ctx)
}

func (t *Tracker) SetAppName(name string) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.SetAppName(name)
}

func (t *Tracker) SetAppVersion(version string) error {
	in, err := t.GetInstance()
	if err != nil {
		return err
	}
	return in.SetAppVersion(version)
}
