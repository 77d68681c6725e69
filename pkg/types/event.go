package types

// EventType classifies custom events.
type EventType int

const (
	EventTypeUnknown EventType = iota
	EventTypeNavigation
	EventTypeLocation
	EventTypeSearch
	EventTypeTransaction
	EventTypeUserContent
	EventTypeUserPreference
	EventTypeSocial
	EventTypeOther
	EventTypeMedia
)

var eventTypeNames = [...]string{
	"Unknown", "Navigation", "Location", "Search", "Transaction",
	"User Content", "User Preference", "Social", "Other", "Media",
}

// Name returns the display name, "Unknown" for out-of-range values.
func (t EventType) Name() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return eventTypeNames[0]
	}
	return eventTypeNames[t]
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return t >= EventTypeUnknown && t <= EventTypeMedia }

// MessageType is the "dt" discriminator of an uploaded message.
type MessageType string

const (
	MessageSessionStart MessageType = "ss"
	MessageSessionEnd   MessageType = "se"
	MessagePageView     MessageType = "pv"
	MessagePageEvent    MessageType = "e"
	MessageCrashReport  MessageType = "x"
	MessageOptOut       MessageType = "o"
	MessageCommerce     MessageType = "cm"
	MessageUserAttrs    MessageType = "uac"
)
