package checkout

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodInstantTransfer PaymentMethod = "instant_transfer"
	PaymentMethodCard            PaymentMethod = "card"
	PaymentMethodVoucher         PaymentMethod = "deferred_voucher"
)

func (m PaymentMethod) String() string {
	return string(m)
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodInstantTransfer, PaymentMethodCard, PaymentMethodVoucher:
		return true
	}
	return false
}

// CartLine is one priced line of the cart. UnitPrice is resolved when the line
// is added and never re-read from the catalog afterwards.
type CartLine struct {
	ProductID          uuid.UUID       `json:"product_id"`
	VariantID          uuid.NullUUID   `json:"variant_id"`
	OptionIDs          []uuid.UUID     `json:"option_ids,omitempty"`
	ProductName        string          `json:"product_name"`
	VariantDescription string          `json:"variant_description,omitempty"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	WeightKg           decimal.Decimal `json:"weight_kg"`
	LengthCm           decimal.Decimal `json:"length_cm"`
	WidthCm            decimal.Decimal `json:"width_cm"`
	HeightCm           decimal.Decimal `json:"height_cm"`
}

func (l CartLine) ExtendedPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) sameItem(other CartLine) bool {
	if l.ProductID != other.ProductID || l.VariantID != other.VariantID {
		return false
	}
	if len(l.OptionIDs) != len(other.OptionIDs) {
		return false
	}
	for i := range l.OptionIDs {
		if l.OptionIDs[i] != other.OptionIDs[i] {
			return false
		}
	}
	return true
}

func (l CartLine) selection(quantity int) LineSelection {
	return LineSelection{ProductID: l.ProductID, VariantID: l.VariantID, OptionIDs: l.OptionIDs, Quantity: quantity}
}

type CartSnapshot struct {
	Lines    []CartLine `json:"lines"`
	Currency string     `json:"currency"`
}

// quantityOf reports how many units of the selected item the cart already holds.
func (c CartSnapshot) quantityOf(sel LineSelection) int {
	key := CartLine{ProductID: sel.ProductID, VariantID: sel.VariantID, OptionIDs: sel.OptionIDs}
	for _, line := range c.Lines {
		if line.sameItem(key) {
			return line.Quantity
		}
	}
	return 0
}

func (c CartSnapshot) Empty() bool {
	return len(c.Lines) == 0
}

func (c CartSnapshot) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.ExtendedPrice())
	}
	return subtotal
}

// Parcel is the physical summary handed to the rate collaborator: total weight
// and the largest dimension seen on each axis.
type Parcel struct {
	WeightKg decimal.Decimal `json:"weight_kg"`
	LengthCm decimal.Decimal `json:"length_cm"`
	WidthCm  decimal.Decimal `json:"width_cm"`
	HeightCm decimal.Decimal `json:"height_cm"`
}

func (c CartSnapshot) Parcel() Parcel {
	p := Parcel{WeightKg: decimal.Zero, LengthCm: decimal.Zero, WidthCm: decimal.Zero, HeightCm: decimal.Zero}
	for _, line := range c.Lines {
		p.WeightKg = p.WeightKg.Add(line.WeightKg.Mul(decimal.NewFromInt(int64(line.Quantity))))
		p.LengthCm = decimal.Max(p.LengthCm, line.LengthCm)
		p.WidthCm = decimal.Max(p.WidthCm, line.WidthCm)
		p.HeightCm = decimal.Max(p.HeightCm, line.HeightCm)
	}
	return p
}

// ResolveUnitPrice applies the catalog pricing precedence: a variant price
// override wins, then the sum of the selected options, then the base price.
func ResolveUnitPrice(base decimal.Decimal, variantOverride decimal.NullDecimal, optionPrices []decimal.Decimal) decimal.Decimal {
	if variantOverride.Valid {
		return variantOverride.Decimal
	}
	if len(optionPrices) > 0 {
		return decimal.Sum(decimal.Zero, optionPrices...)
	}
	return base
}

type CustomerIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	// Document is the buyer's tax id, required by the voucher gateway only.
	Document string `json:"document,omitempty"`
}

func (c CustomerIdentity) Complete() bool {
	return notBlank(c.Name) && notBlank(c.Email) && notBlank(c.Phone)
}

type DeliveryAddress struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

func (a DeliveryAddress) Complete() bool {
	return notBlank(a.PostalCode) &&
		notBlank(a.Street) &&
		notBlank(a.Number) &&
		notBlank(a.Neighborhood) &&
		notBlank(a.City) &&
		len(strings.TrimSpace(a.State)) == 2
}

type SavedAddress struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Address    DeliveryAddress `json:"address"`
	IsDefault  bool            `json:"is_default"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID            uuid.UUID           `json:"id"`
	Code          string              `json:"code"`
	DiscountType  DiscountType        `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	Active        bool                `json:"active"`
	StartsAt      *time.Time          `json:"starts_at,omitempty"`
	EndsAt        *time.Time          `json:"ends_at,omitempty"`
	MinOrderValue decimal.NullDecimal `json:"min_order_value"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	UsageCount    int                 `json:"usage_count"`
}

// ActiveAt reports whether the coupon is switched on and inside its window.
func (c Coupon) ActiveAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && !now.Before(*c.EndsAt) {
		return false
	}
	return true
}

type AppliedCoupon struct {
	CouponID       uuid.UUID       `json:"coupon_id"`
	Code           string          `json:"code"`
	DiscountType   DiscountType    `json:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type Seller struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
}

type ReferralResult struct {
	Code        string        `json:"code,omitempty"`
	Verified    bool          `json:"verified"`
	SellerID    uuid.NullUUID `json:"seller_id"`
	DisplayName string        `json:"display_name,omitempty"`
}

type ShippingQuote struct {
	ID           string          `json:"id"`
	Carrier      string          `json:"carrier"`
	Service      string          `json:"service"`
	Price        decimal.Decimal `json:"price"`
	DeliveryDays int             `json:"delivery_days"`
}

// ShippingBinding is a quote locked to the address it was quoted for.
type ShippingBinding struct {
	Quote   ShippingQuote   `json:"quote"`
	Address DeliveryAddress `json:"address"`
}

func (b *ShippingBinding) ValidFor(addr DeliveryAddress) bool {
	return b != nil && b.Address == addr
}

type PriceBreakdown struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	CouponDiscount        decimal.Decimal `json:"coupon_discount"`
	PaymentMethodDiscount decimal.Decimal `json:"payment_method_discount"`
	ShippingCost          decimal.Decimal `json:"shipping_cost"`
	FinalTotal            decimal.Decimal `json:"final_total"`
}

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
)

func (s OrderStatus) String() string {
	return string(s)
}

type Order struct {
	ID               uuid.UUID        `json:"id"`
	Reference        string           `json:"reference"`
	IdempotencyKey   string           `json:"-"`
	SessionID        string           `json:"session_id"`
	CustomerID       uuid.NullUUID    `json:"customer_id"`
	Customer         CustomerIdentity `json:"customer"`
	Address          DeliveryAddress  `json:"address"`
	Prices           PriceBreakdown   `json:"prices"`
	Currency         string           `json:"currency"`
	PaymentMethod    PaymentMethod    `json:"payment_method"`
	Status           OrderStatus      `json:"status"`
	CouponCode       string           `json:"coupon_code,omitempty"`
	ReferralCode     string           `json:"referral_code,omitempty"`
	ReferralSellerID uuid.NullUUID    `json:"referral_seller_id"`
	Shipping         ShippingQuote    `json:"shipping"`
	Lines            []OrderLine      `json:"lines"`
	PaymentAttempts  []PaymentAttempt `json:"payment_attempts,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// OrderLine is denormalized from the cart so catalog edits cannot rewrite history.
type OrderLine struct {
	ID                 uuid.UUID       `json:"id"`
	OrderID            uuid.UUID       `json:"order_id"`
	Position           int             `json:"position"`
	ProductID          uuid.UUID       `json:"product_id"`
	VariantID          uuid.NullUUID   `json:"variant_id"`
	ProductName        string          `json:"product_name"`
	VariantDescription string          `json:"variant_description,omitempty"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Quantity           int             `json:"quantity"`
	ExtendedPrice      decimal.Decimal `json:"extended_price"`
}

type PaymentAttempt struct {
	ID               uuid.UUID     `json:"id"`
	OrderID          uuid.UUID     `json:"order_id"`
	Method           PaymentMethod `json:"method"`
	GatewayReference string        `json:"gateway_reference"`
	QRCode           string        `json:"qr_code,omitempty"`
	QRCodeImageURL   string        `json:"qr_code_image_url,omitempty"`
	VoucherURL       string        `json:"voucher_url,omitempty"`
	VoucherNumber    string        `json:"voucher_number,omitempty"`
	RedirectURL      string        `json:"redirect_url,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// RequiresRedirect is true for full-page handoffs to a hosted checkout.
func (p PaymentAttempt) RequiresRedirect() bool {
	return p.Method == PaymentMethodCard && p.RedirectURL != ""
}

func notBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}
