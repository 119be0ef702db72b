package checkout

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricingEngine turns a cart plus the buyer's selections into a PriceBreakdown.
// It holds only configuration; every call recomputes from its inputs.
type PricingEngine struct {
	methodDiscounts map[PaymentMethod]decimal.Decimal
}

// NewPricingEngine takes per-method discount rates as fractions (0.05 = 5%).
func NewPricingEngine(methodDiscounts map[PaymentMethod]decimal.Decimal) *PricingEngine {
	rates := make(map[PaymentMethod]decimal.Decimal, len(methodDiscounts))
	for method, rate := range methodDiscounts {
		rates[method] = rate
	}
	return &PricingEngine{methodDiscounts: rates}
}

// PricingInput bundles the optional selections; nil fields mean "not chosen yet".
type PricingInput struct {
	Cart   CartSnapshot
	Coupon *AppliedCoupon
	Method PaymentMethod
	Quote  *ShippingQuote
}

func (e *PricingEngine) Price(in PricingInput) PriceBreakdown {
	subtotal := in.Cart.Subtotal().Round(2)

	couponDiscount := decimal.Zero
	if in.Coupon != nil {
		couponDiscount = CouponDiscount(in.Coupon.DiscountType, in.Coupon.DiscountValue, subtotal)
	}

	discounted := subtotal.Sub(couponDiscount)
	methodDiscount := decimal.Zero
	if rate, ok := e.methodDiscounts[in.Method]; ok && rate.IsPositive() {
		methodDiscount = clamp(discounted.Mul(rate).Round(2), discounted)
	}

	shipping := decimal.Zero
	if in.Quote != nil && in.Quote.Price.IsPositive() {
		shipping = in.Quote.Price.Round(2)
	}

	return PriceBreakdown{
		Subtotal:              subtotal,
		CouponDiscount:        couponDiscount,
		PaymentMethodDiscount: methodDiscount,
		ShippingCost:          shipping,
		FinalTotal:            discounted.Sub(methodDiscount).Add(shipping),
	}
}

// MethodDiscountRate returns the configured rate for a method, zero if none.
func (e *PricingEngine) MethodDiscountRate(method PaymentMethod) decimal.Decimal {
	if rate, ok := e.methodDiscounts[method]; ok {
		return rate
	}
	return decimal.Zero
}

// CouponDiscount computes a coupon's discount against subtotal, capped at subtotal.
func CouponDiscount(kind DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch kind {
	case DiscountPercentage:
		discount = subtotal.Mul(value).Div(hundred).Round(2)
	case DiscountFixed:
		discount = value.Round(2)
	default:
		return decimal.Zero
	}
	return clamp(discount, subtotal)
}

func clamp(amount, ceiling decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if ceiling.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, ceiling)
}
