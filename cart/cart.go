// cart/cart.go

// Package cart is the shopping cart store: line items, an optional coupon
// and the derived totals, persisted as one JSON snapshot after every change.
package cart

import (
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
)

// LineItem is one row of the cart. The product fields are a copy taken
// when the product was first added and are never refreshed.
type LineItem struct {
	ID            string        `json:"id"`
	ProductID     string        `json:"productId"`
	Name          string        `json:"name"`
	Price         money.Amount  `json:"price"`
	OriginalPrice *money.Amount `json:"originalPrice,omitempty"`
	Image         string        `json:"image"`
	Rating        float64       `json:"rating"`
	Category      string        `json:"category"`
	InStock       bool          `json:"inStock"`
	Quantity      int           `json:"quantity"`
}

// LineTotal is price times quantity.
func (li LineItem) LineTotal() money.Amount {
	return li.Price.Mul(li.Quantity)
}

func newLineItem(id string, p catalog.Product, quantity int) LineItem {
	return LineItem{
		ID:            id,
		ProductID:     p.ID,
		Name:          p.Name,
		Price:         p.Price,
		OriginalPrice: copyAmount(p.OriginalPrice),
		Image:         p.Image,
		Rating:        p.Rating,
		Category:      p.Category,
		InStock:       p.InStock,
		Quantity:      quantity,
	}
}

// State is the whole cart aggregate. Subtotal, Discount, Shipping, Total
// and ItemCount are derived from Items and Coupon by recalculate.
type State struct {
	Items     []LineItem   `json:"items"`
	Subtotal  money.Amount `json:"subtotal"`
	Discount  money.Amount `json:"discount"`
	Shipping  money.Amount `json:"shipping"`
	Total     money.Amount `json:"total"`
	ItemCount int          `json:"itemCount"`
	Coupon    *Coupon      `json:"coupon,omitempty"`
}

func emptyState() State {
	return State{Items: []LineItem{}}
}

// IsEmpty reports whether the cart has no line items.
func (s State) IsEmpty() bool {
	return len(s.Items) == 0
}

// Item returns the line item for productID.
func (s State) Item(productID string) (LineItem, bool) {
	if i := s.indexOf(productID); i >= 0 {
		return s.Items[i], true
	}
	return LineItem{}, false
}

func (s State) indexOf(productID string) int {
	for i, it := range s.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// recalculate rebuilds every derived field so that
// Total == Subtotal - Discount + Shipping.
func (s *State) recalculate(flatShipping money.Amount) {
	var subtotal money.Amount
	count := 0
	for _, it := range s.Items {
		subtotal += it.LineTotal()
		count += it.Quantity
	}
	s.Subtotal = subtotal
	s.ItemCount = count

	s.Shipping = 0
	if len(s.Items) > 0 {
		s.Shipping = flatShipping
	}

	s.Discount = 0
	if s.Coupon != nil {
		s.Coupon.Discount = s.Coupon.discountFor(subtotal)
		s.Discount = s.Coupon.Discount
	}

	s.Total = s.Subtotal - s.Discount + s.Shipping
}

func (s State) clone() State {
	out := s
	out.Items = make([]LineItem, len(s.Items))
	for i, it := range s.Items {
		it.OriginalPrice = copyAmount(it.OriginalPrice)
		out.Items[i] = it
	}
	if s.Coupon != nil {
		c := *s.Coupon
		out.Coupon = &c
	}
	return out
}

func copyAmount(a *money.Amount) *money.Amount {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}
