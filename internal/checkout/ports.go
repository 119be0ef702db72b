package checkout

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Catalog resolves a product selection into a priced cart line.
type Catalog interface {
	ResolveLine(ctx context.Context, sel LineSelection) (CartLine, error)
}

type LineSelection struct {
	ProductID uuid.UUID
	VariantID uuid.NullUUID
	OptionIDs []uuid.UUID
	Quantity  int
}

type CouponStore interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	IncrementUsage(ctx context.Context, couponID uuid.UUID) error
}

type SellerRegistry interface {
	FindActiveByCode(ctx context.Context, code string) (*Seller, error)
}

type RateProvider interface {
	GetRates(ctx context.Context, addr DeliveryAddress, parcel Parcel) ([]ShippingQuote, error)
}

type AddressStore interface {
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]SavedAddress, error)
	GetByID(ctx context.Context, id uuid.UUID) (*SavedAddress, error)
	ClearDefault(ctx context.Context, customerID uuid.UUID) error
	Update(ctx context.Context, addr *SavedAddress) error
	Insert(ctx context.Context, addr *SavedAddress) error
}

type OrderStore interface {
	CreateOrderHeader(ctx context.Context, order *Order) error
	CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []OrderLine) error
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	AddPaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error
}

type PaymentRequest struct {
	AttemptID uuid.UUID
	OrderID   uuid.UUID
	Reference string
	Method    PaymentMethod
	Amount    decimal.Decimal
	Currency  string
	Customer  CustomerIdentity
	Address   DeliveryAddress
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentRequest) (*PaymentAttempt, error)
}

type OrderPlacedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	Reference     string          `json:"reference"`
	SessionID     string          `json:"session_id"`
	CustomerEmail string          `json:"customer_email"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	FinalTotal    decimal.Decimal `json:"final_total"`
	Currency      string          `json:"currency"`
	CouponCode    string          `json:"coupon_code,omitempty"`
	ReferralCode  string          `json:"referral_code,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
}

type SessionStore interface {
	Save(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// Locker provides the single in-flight guard for order placement. Acquire
// fails with ErrPlacementInFlight when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Recorder receives pipeline telemetry. A nil Recorder is allowed everywhere.
type Recorder interface {
	PlacementFinished(outcome string)
	StepFailed(step Step)
	PaymentDispatched(method PaymentMethod, ok bool)
}
