package checkout

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Session is the explicit context object for one buyer's checkout. It is
// created at checkout entry and discarded after placement or abandonment;
// every component reads and writes checkout state only through it.
type Session struct {
	ID                string           `json:"id"`
	IdempotencyKey    string           `json:"idempotency_key"`
	CustomerID        uuid.NullUUID    `json:"customer_id"`
	Stage             Stage            `json:"stage"`
	Reached           Stage            `json:"reached"`
	Cart              CartSnapshot     `json:"cart"`
	Customer          CustomerIdentity `json:"customer"`
	Address           DeliveryAddress  `json:"address"`
	SelectedAddressID uuid.NullUUID    `json:"selected_address_id"`
	SavedAddresses    []SavedAddress   `json:"saved_addresses,omitempty"`
	SaveAddress       bool             `json:"save_address"`
	Quotes            []ShippingQuote  `json:"quotes,omitempty"`
	Shipping          *ShippingBinding `json:"shipping,omitempty"`
	Coupon            *AppliedCoupon   `json:"coupon,omitempty"`
	Referral          ReferralResult   `json:"referral"`
	PaymentMethod     PaymentMethod    `json:"payment_method,omitempty"`
	Prices            PriceBreakdown   `json:"prices"`
	OrderID           uuid.NullUUID    `json:"order_id"`
	OrderReference    string           `json:"order_reference,omitempty"`
	Payment           *PaymentAttempt  `json:"payment,omitempty"`
	PaymentNotice     string           `json:"payment_notice,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func NewSession(id, idempotencyKey string, customerID uuid.NullUUID, currency string, now time.Time) *Session {
	return &Session{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		CustomerID:     customerID,
		Stage:          StageIdentification,
		Reached:        StageIdentification,
		Cart:           CartSnapshot{Currency: currency},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Session) Placed() bool {
	return s.OrderID.Valid
}

func (s *Session) editable() error {
	if s.OrderID.Valid || s.Stage == StageConfirmation {
		return ErrOrderAlreadyPlaced
	}
	return nil
}

// AddLine merges line into an identical existing line or appends it.
func (s *Session) AddLine(line CartLine) error {
	if err := s.editable(); err != nil {
		return err
	}
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if line.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Message: "must not be negative"}
	}
	for i := range s.Cart.Lines {
		if s.Cart.Lines[i].sameItem(line) {
			s.Cart.Lines[i].Quantity += line.Quantity
			s.cartChanged()
			return nil
		}
	}
	s.Cart.Lines = append(s.Cart.Lines, line)
	s.cartChanged()
	return nil
}

func (s *Session) UpdateQuantity(index, quantity int) error {
	if err := s.editable(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.Cart.Lines) {
		return ErrLineNotFound
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	s.Cart.Lines[index].Quantity = quantity
	s.cartChanged()
	return nil
}

func (s *Session) RemoveLine(index int) error {
	if err := s.editable(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.Cart.Lines) {
		return ErrLineNotFound
	}
	s.Cart.Lines = append(s.Cart.Lines[:index], s.Cart.Lines[index+1:]...)
	s.cartChanged()
	return nil
}

// cartChanged drops quotes and binding: rates depend on the cart's parcel.
func (s *Session) cartChanged() {
	s.Quotes = nil
	s.Shipping = nil
	s.reconcileStage()
}

func (s *Session) SetCustomer(c CustomerIdentity) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.Customer = CustomerIdentity{
		Name:     strings.TrimSpace(c.Name),
		Email:    strings.TrimSpace(c.Email),
		Phone:    strings.TrimSpace(c.Phone),
		Document: strings.TrimSpace(c.Document),
	}
	s.reconcileStage()
	return nil
}

// SetAddress records a freshly typed address. Any change detaches a
// previously selected saved address and invalidates the shipping binding.
func (s *Session) SetAddress(addr DeliveryAddress) error {
	if err := s.editable(); err != nil {
		return err
	}
	addr.State = strings.ToUpper(strings.TrimSpace(addr.State))
	if addr == s.Address {
		return nil
	}
	s.SelectedAddressID = uuid.NullUUID{}
	s.applyAddress(addr)
	return nil
}

func (s *Session) SelectSavedAddress(saved SavedAddress) error {
	if err := s.editable(); err != nil {
		return err
	}
	if !s.CustomerID.Valid || saved.CustomerID != s.CustomerID.UUID {
		return ErrSavedAddressOwner
	}
	s.SelectedAddressID = uuid.NullUUID{UUID: saved.ID, Valid: true}
	s.applyAddress(saved.Address)
	return nil
}

func (s *Session) applyAddress(addr DeliveryAddress) {
	if addr != s.Address {
		s.Quotes = nil
	}
	s.Address = addr
	if !s.Shipping.ValidFor(addr) {
		s.Shipping = nil
	}
	s.reconcileStage()
}

func (s *Session) SetSaveAddress(save bool) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.SaveAddress = save
	return nil
}

func (s *Session) SetQuotes(quotes []ShippingQuote) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.Quotes = quotes
	return nil
}

func (s *Session) BindShipping(b *ShippingBinding) error {
	if err := s.editable(); err != nil {
		return err
	}
	if !b.ValidFor(s.Address) {
		return ErrQuoteNotOffered
	}
	s.Shipping = b
	return nil
}

// ApplyCoupon locks applied into the session. Re-applying the locked code is
// a no-op and reports false.
func (s *Session) ApplyCoupon(applied *AppliedCoupon) (bool, error) {
	if err := s.editable(); err != nil {
		return false, err
	}
	if s.Coupon != nil {
		if strings.EqualFold(s.Coupon.Code, applied.Code) {
			return false, nil
		}
		return false, ErrCouponLocked
	}
	s.Coupon = applied
	return true, nil
}

// CouponLocked reports whether code is the coupon already applied.
func (s *Session) CouponLocked(code string) bool {
	return s.Coupon != nil && strings.EqualFold(s.Coupon.Code, strings.TrimSpace(code))
}

func (s *Session) RemoveCoupon() error {
	if err := s.editable(); err != nil {
		return err
	}
	s.Coupon = nil
	return nil
}

// ClearReferral resets verification before a new code is checked.
func (s *Session) ClearReferral() error {
	if err := s.editable(); err != nil {
		return err
	}
	s.Referral = ReferralResult{}
	return nil
}

func (s *Session) SetReferral(r ReferralResult) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.Referral = r
	return nil
}

func (s *Session) SetPaymentMethod(m PaymentMethod) error {
	if err := s.editable(); err != nil {
		return err
	}
	if !m.Valid() {
		return &ValidationError{Field: "payment_method", Message: "unknown payment method"}
	}
	s.PaymentMethod = m
	return nil
}

// Reprice refreshes Prices. Once an order exists the breakdown is frozen.
func (s *Session) Reprice(engine *PricingEngine) {
	if s.OrderID.Valid {
		return
	}
	var quote *ShippingQuote
	if s.Shipping.ValidFor(s.Address) {
		quote = &s.Shipping.Quote
	}
	s.Prices = engine.Price(PricingInput{
		Cart:   s.Cart,
		Coupon: s.Coupon,
		Method: s.PaymentMethod,
		Quote:  quote,
	})
}
