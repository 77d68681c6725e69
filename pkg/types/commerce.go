package types

// CommerceEventType is the event type of commerce messages.
type CommerceEventType int

const (
	ProductAddToCart CommerceEventType = iota + 10
	ProductRemoveFromCart
	ProductCheckout
	ProductCheckoutOption
	ProductClick
	ProductViewDetail
	ProductPurchase
	ProductRefund
	PromotionView
	PromotionClick
	ProductAddToWishlist
	ProductRemoveFromWishlist
	ProductImpression
)

// ProductActionType is the action carried by a product action event.
type ProductActionType int

const (
	ProductActionUnknown ProductActionType = iota
	ProductActionAddToCart
	ProductActionRemoveFromCart
	ProductActionCheckout
	ProductActionCheckoutOption
	ProductActionClick
	ProductActionViewDetail
	ProductActionPurchase
	ProductActionRefund
	ProductActionAddToWishlist
	ProductActionRemoveFromWishlist
)

type actionInfo struct {
	name      string
	expansion string
	event     CommerceEventType
}

var productActions = map[ProductActionType]actionInfo{
	ProductActionAddToCart:          {"Add to Cart", "add_to_cart", ProductAddToCart},
	ProductActionRemoveFromCart:     {"Remove from Cart", "remove_from_cart", ProductRemoveFromCart},
	ProductActionCheckout:           {"Checkout", "checkout", ProductCheckout},
	ProductActionCheckoutOption:     {"Checkout Option", "checkout_option", ProductCheckoutOption},
	ProductActionClick:              {"Click", "click", ProductClick},
	ProductActionViewDetail:         {"View Detail", "view_detail", ProductViewDetail},
	ProductActionPurchase:           {"Purchase", "purchase", ProductPurchase},
	ProductActionRefund:             {"Refund", "refund", ProductRefund},
	ProductActionAddToWishlist:      {"Add to Wishlist", "add_to_wishlist", ProductAddToWishlist},
	ProductActionRemoveFromWishlist: {"Remove from Wishlist", "remove_from_wishlist", ProductRemoveFromWishlist},
}

// Name returns the display name, "Unknown" for unknown actions.
func (a ProductActionType) Name() string {
	if info, ok := productActions[a]; ok {
		return info.name
	}
	return "Unknown"
}

// ExpansionName returns the name used when a commerce event is expanded
// into plain events.
func (a ProductActionType) ExpansionName() string {
	if info, ok := productActions[a]; ok {
		return info.expansion
	}
	return "unknown"
}

// WireName returns the "an" value sent to the collection endpoint. It is
// the expansion name.
func (a ProductActionType) WireName() string { return a.ExpansionName() }

// CommerceEventType maps the action to its commerce event type.
func (a ProductActionType) CommerceEventType() (CommerceEventType, bool) {
	info, ok := productActions[a]
	return info.event, ok
}

// Valid reports whether a is a known, non-Unknown action.
func (a ProductActionType) Valid() bool {
	_, ok := productActions[a]
	return ok
}

// PromotionType is the action carried by a promotion event.
type PromotionType int

const (
	PromotionUnknown PromotionType = iota
	PromotionActionView
	PromotionActionClick
)

// Name returns the display name.
func (p PromotionType) Name() string {
	switch p {
	case PromotionActionView:
		return "view"
	case PromotionActionClick:
		return "click"
	default:
		return "Unknown"
	}
}

// ExpansionName returns the name used when expanding promotion events.
func (p PromotionType) ExpansionName() string {
	switch p {
	case PromotionActionView:
		return "view"
	case PromotionActionClick:
		return "click"
	default:
		return "unknown"
	}
}

// CommerceEventType maps the promotion action to its event type.
func (p PromotionType) CommerceEventType() (CommerceEventType, bool) {
	switch p {
	case PromotionActionView:
		return PromotionView, true
	case PromotionActionClick:
		return PromotionClick, true
	default:
		return 0, false
	}
}
