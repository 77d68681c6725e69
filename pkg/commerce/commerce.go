// Package commerce builds the structured objects logged by commerce
// events: products, transaction attributes, promotions and impressions.
// Builders validate their input; the tracker treats the results as opaque
// payload.
package commerce

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidProduct     = errors.New("commerce: invalid product")
	ErrInvalidTransaction = errors.New("commerce: invalid transaction attributes")
	ErrInvalidPromotion   = errors.New("commerce: invalid promotion")
	ErrInvalidImpression  = errors.New("commerce: invalid impression")
	ErrInvalidCurrency    = errors.New("commerce: invalid currency code")
)

// Product is one line item.
type Product struct {
	Name             string            `json:"nm"`
	SKU              string            `json:"id"`
	Price            float64           `json:"pr"`
	Quantity         float64           `json:"qt"`
	Variant          string            `json:"va,omitempty"`
	Category         string            `json:"ca,omitempty"`
	Brand            string            `json:"br,omitempty"`
	Position         int               `json:"ps,omitempty"`
	CouponCode       string            `json:"cc,omitempty"`
	TotalAmount      float64           `json:"tpa"`
	CustomAttributes map[string]string `json:"attrs,omitempty"`
}

// NewProduct builds a product with quantity defaulting to 1 when zero.
func NewProduct(name, sku string, price, quantity float64) (Product, error) {
	p := Product{Name: name, SKU: sku, Price: price, Quantity: quantity}
	return p.Normalize()
}

// Normalize validates p and fills derived fields.
func (p Product) Normalize() (Product, error) {
	if p.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.SKU == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrInvalidProduct)
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return Product{}, fmt.Errorf("%w: price must be a finite number", ErrInvalidProduct)
	}
	if p.Quantity == 0 {
		p.Quantity = 1
	}
	if p.Quantity < 0 || math.IsNaN(p.Quantity) {
		return Product{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidProduct)
	}
	p.TotalAmount = p.Price * p.Quantity
	return p, nil
}

// TransactionAttributes describe a purchase or refund.
type TransactionAttributes struct {
	ID          string  `json:"ti"`
	Affiliation string  `json:"ta,omitempty"`
	CouponCode  string  `json:"tcc,omitempty"`
	Revenue     float64 `json:"tr"`
	Shipping    float64 `json:"ts"`
	Tax         float64 `json:"tt"`
}

// NewTransactionAttributes builds validated transaction attributes.
func NewTransactionAttributes(id, affiliation, couponCode string, revenue, shipping, tax float64) (TransactionAttributes, error) {
	ta := TransactionAttributes{ID: id, Affiliation: affiliation, CouponCode: couponCode, Revenue: revenue, Shipping: shipping, Tax: tax}
	return ta, ta.Validate()
}

// Validate checks required fields.
func (ta TransactionAttributes) Validate() error {
	if ta.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	}
	for _, v := range []float64{ta.Revenue, ta.Shipping, ta.Tax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: amounts must be finite numbers", ErrInvalidTransaction)
		}
	}
	return nil
}

// Promotion is an internal promotion shown or clicked.
type Promotion struct {
	ID       string `json:"id"`
	Name     string `json:"nm,omitempty"`
	Creative string `json:"cr,omitempty"`
	Position string `json:"ps,omitempty"`
}

// Validate checks the promotion carries an id or a name.
func (p Promotion) Validate() error {
	if p.ID == "" && p.Name == "" {
		return fmt.Errorf("%w: id or name is required", ErrInvalidPromotion)
	}
	return nil
}

// Impression is a named list of products the user saw.
type Impression struct {
	Name     string    `json:"pil"`
	Products []Product `json:"pl"`
}

// NewImpression validates the products of an impression list.
func NewImpression(name string, products ...Product) (Impression, error) {
	if name == "" {
		return Impression{}, fmt.Errorf("%w: name is required", ErrInvalidImpression)
	}
	normalized, err := NormalizeProducts(products)
	if err != nil {
		return Impression{}, err
	}
	return Impression{Name: name, Products: normalized}, nil
}

// NormalizeProducts normalizes every product, failing on the first invalid one.
func NormalizeProducts(products []Product) ([]Product, error) {
	out := make([]Product, 0, len(products))
	for i, p := range products {
		np, err := p.Normalize()
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		out = append(out, np)
	}
	return out, nil
}

// ValidateCurrencyCode accepts ISO-4217 style three-letter codes.
func ValidateCurrencyCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return nil
}
