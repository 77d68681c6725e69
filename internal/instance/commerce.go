package instance

import (
	"fmt"
	"maps"

	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/commerce"
	"github.com/rzbill/mptrack/pkg/types"
)

// ECommerce logs commerce events on its instance.
type ECommerce struct{ in *Instance }

// ECommerce returns the commerce API of in.
func (in *Instance) ECommerce() ECommerce { return ECommerce{in: in} }

// CommerceEventName is the message name of a product action, e.g.
// "eCommerce - Purchase".
func CommerceEventName(action types.ProductActionType) string {
	return "eCommerce - " + action.Name()
}

// LogPurchase logs a purchase of products.
func (c ECommerce) LogPurchase(ta commerce.TransactionAttributes, products []commerce.Product, attrs map[string]any) error {
	if err := ta.Validate(); err != nil {
		return err
	}
	return c.logAction(types.ProductActionPurchase, &ta, products, attrs, 0, "")
}

// LogRefund logs a refund. Products may be empty for a full refund.
func (c ECommerce) LogRefund(ta commerce.TransactionAttributes, products []commerce.Product, attrs map[string]any) error {
	if err := ta.Validate(); err != nil {
		return err
	}
	return c.logAction(types.ProductActionRefund, &ta, products, attrs, 0, "")
}

// LogCheckout logs a checkout step.
func (c ECommerce) LogCheckout(step int, option string, products []commerce.Product, attrs map[string]any) error {
	if step < 0 {
		return fmt.Errorf("%w: checkout step must not be negative", ErrInvalidEvent)
	}
	return c.logAction(types.ProductActionCheckout, nil, products, attrs, step, option)
}

// LogProductAction logs any product action.
func (c ECommerce) LogProductAction(action types.ProductActionType, products []commerce.Product, attrs map[string]any) error {
	return c.logAction(action, nil, products, attrs, 0, "")
}

func (c ECommerce) logAction(action types.ProductActionType, ta *commerce.TransactionAttributes, products []commerce.Product, attrs map[string]any, step int, option string) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown product action %d", ErrInvalidEvent, int(action))
	}
	normalized, err := commerce.NormalizeProducts(products)
	if err != nil {
		return err
	}
	cet, _ := action.CommerceEventType()
	pa := &transport.ProductAction{
		Action:          action.WireName(),
		CheckoutStep:    step,
		CheckoutOptions: option,
		Products:        normalized,
	}
	if ta != nil {
		pa.TransactionID = ta.ID
		pa.Affiliation = ta.Affiliation
		pa.CouponCode = ta.CouponCode
		pa.Revenue = ta.Revenue
		pa.Shipping = ta.Shipping
		pa.Tax = ta.Tax
	}
	msg := transport.Message{
		Type:          types.MessageCommerce,
		Name:          CommerceEventName(action),
		EventType:     int(cet),
		Attrs:         maps.Clone(attrs),
		ProductAction: pa,
	}
	return c.in.post(func(in *Instance) { in.track(msg, types.EventTypeTransaction.Name()) })
}

// LogPromotion logs promotions being viewed or clicked.
func (c ECommerce) LogPromotion(pt types.PromotionType, promotions []commerce.Promotion, attrs map[string]any) error {
	cet, ok := pt.CommerceEventType()
	if !ok {
		return fmt.Errorf("%w: unknown promotion type %d", ErrInvalidEvent, int(pt))
	}
	for _, p := range promotions {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	msg := transport.Message{
		Type:      types.MessageCommerce,
		Name:      "eCommerce - " + pt.Name(),
		EventType: int(cet),
		Attrs:     maps.Clone(attrs),
		PromotionAction: &transport.PromotionAction{
			Action:     pt.ExpansionName(),
			Promotions: append([]commerce.Promotion(nil), promotions...),
		},
	}
	return c.in.post(func(in *Instance) { in.track(msg, types.EventTypeTransaction.Name()) })
}

// LogImpression logs product impressions.
func (c ECommerce) LogImpression(impressions []commerce.Impression, attrs map[string]any) error {
	if len(impressions) == 0 {
		return fmt.Errorf("%w: at least one impression is required", ErrInvalidEvent)
	}
	normalized := make([]commerce.Impression, 0, len(impressions))
	for _, imp := range impressions {
		n, err := commerce.NewImpression(imp.Name, imp.Products...)
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}
	msg := transport.Message{
		Type:        types.MessageCommerce,
		Name:        "eCommerce - Impression",
		EventType:   int(types.ProductImpression),
		Attrs:       maps.Clone(attrs),
		Impressions: normalized,
	}
	return c.in.post(func(in *Instance) { in.track(msg, types.EventTypeTransaction.Name()) })
}

// SetCurrencyCode sets the currency stamped on later commerce events.
func (c ECommerce) SetCurrencyCode(code string) error {
	if err := commerce.ValidateCurrencyCode(code); err != nil {
		return err
	}
	return c.in.post(func(in *Instance) { in.currency = code })
}
