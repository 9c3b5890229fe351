// cart/coupon.go

package cart

import (
	"strings"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
)

// CouponType discriminates how a coupon's Value is read.
type CouponType string

const (
	// CouponPercentage: Value is a percentage of the subtotal.
	CouponPercentage CouponType = "percentage"
	// CouponFixed: Value is an amount in centavos, capped at the subtotal.
	CouponFixed CouponType = "fixed"
)

// CouponRule is a redeemable code.
type CouponRule struct {
	Code        string
	Type        CouponType
	Value       int64
	MinPurchase money.Amount
}

// DefaultCoupons are the codes the storefront accepts out of the box.
var DefaultCoupons = []CouponRule{
	{Code: "DESCONTO10", Type: CouponPercentage, Value: 10},
}

// Coupon is the coupon applied to a cart. Discount is the amount it
// takes off the current subtotal.
type Coupon struct {
	Code        string       `json:"code"`
	Discount    money.Amount `json:"discount"`
	Type        CouponType   `json:"type"`
	Value       int64        `json:"value"`
	MinPurchase money.Amount `json:"minPurchase"`
}

func (c Coupon) discountFor(subtotal money.Amount) money.Amount {
	if subtotal <= 0 || subtotal < c.MinPurchase {
		return 0
	}
	var d money.Amount
	switch c.Type {
	case CouponPercentage:
		d = subtotal.Percent(int(c.Value))
	case CouponFixed:
		d = money.Amount(c.Value)
	}
	if d > subtotal {
		return subtotal
	}
	return d
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func couponIndex(rules []CouponRule) map[string]CouponRule {
	idx := make(map[string]CouponRule, len(rules))
	for _, r := range rules {
		idx[normalizeCode(r.Code)] = r
	}
	return idx
}
