package transport

import (
	"encoding/json"

	"github.com/rzbill/mptrack/pkg/commerce"
	"github.com/rzbill/mptrack/pkg/consent"
	"github.com/rzbill/mptrack/pkg/types"
)

// SDKVersion is reported in every batch.
const SDKVersion = "mptrack-go/1"

// Message is one tracked occurrence as sent on the wire.
type Message struct {
	Type      types.MessageType `json:"dt"`
	ID        string            `json:"id"`
	Name      string            `json:"n,omitempty"`
	EventType int               `json:"et,omitempty"`
	Attrs     map[string]any    `json:"attrs,omitempty"`
	Flags     map[string]string `json:"flags,omitempty"`

	SessionID      string         `json:"sid,omitempty"`
	SessionStartMs int64          `json:"sst,omitempty"`
	SessionAttrs   map[string]any `json:"sa,omitempty"`
	// SessionLengthMs is set on session-end messages.
	SessionLengthMs int64 `json:"slx,omitempty"`

	MPID       string            `json:"mpid,omitempty"`
	Identities map[string]string `json:"ui,omitempty"`
	UserAttrs  map[string]any    `json:"ua,omitempty"`
	Consent    *consent.State    `json:"con,omitempty"`

	TimestampMs int64  `json:"ct"`
	APIKey      string `json:"a"`
	DeviceID    string `json:"das"`
	OptOut      *bool  `json:"oo,omitempty"`

	ProductAction   *ProductAction        `json:"pd,omitempty"`
	PromotionAction *PromotionAction      `json:"pm,omitempty"`
	Impressions     []commerce.Impression `json:"pi,omitempty"`
	CurrencyCode    string                `json:"cu,omitempty"`

	AppName    string `json:"an,omitempty"`
	AppVersion string `json:"av,omitempty"`
}

// ProductAction is the commerce payload of a product action message.
type ProductAction struct {
	Action          string             `json:"an"`
	TransactionID   string             `json:"ti,omitempty"`
	Affiliation     string             `json:"ta,omitempty"`
	CouponCode      string             `json:"tcc,omitempty"`
	Revenue         float64            `json:"tr,omitempty"`
	Shipping        float64            `json:"ts,omitempty"`
	Tax             float64            `json:"tt,omitempty"`
	CheckoutStep    int                `json:"cs,omitempty"`
	CheckoutOptions string             `json:"co,omitempty"`
	Products        []commerce.Product `json:"pl"`
}

// PromotionAction is the commerce payload of a promotion message.
type PromotionAction struct {
	Action     string               `json:"an"`
	Promotions []commerce.Promotion `json:"pl"`
}

// Batch is the body of one upload request.
type Batch struct {
	ID          string    `json:"id"`
	SDK         string    `json:"sdk"`
	APIKey      string    `json:"apiKey"`
	TimestampMs int64     `json:"ct"`
	Messages    []Message `json:"messages"`
}

// Response is the decoded upload response.
type Response struct {
	Store map[string]json.RawMessage `json:"store"`
}
