package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
	"github.com/vasiliy-maslov/storefront-checkout/internal/payment"
)

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) session(args mock.Arguments) (*checkout.Session, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Session), args.Error(1)
}

func (m *MockCheckoutService) StartSession(ctx context.Context, customerID uuid.NullUUID) (*checkout.Session, error) {
	return m.session(m.Called(ctx, customerID))
}

func (m *MockCheckoutService) GetSession(ctx context.Context, id string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockCheckoutService) AddItem(ctx context.Context, id string, sel checkout.LineSelection) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, sel))
}

func (m *MockCheckoutService) UpdateQuantity(ctx context.Context, id string, line, quantity int) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, line, quantity))
}

func (m *MockCheckoutService) RemoveItem(ctx context.Context, id string, line int) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, line))
}

func (m *MockCheckoutService) SetCustomer(ctx context.Context, id string, customer checkout.CustomerIdentity) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, customer))
}

func (m *MockCheckoutService) SetAddress(ctx context.Context, id string, addr checkout.DeliveryAddress) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, addr))
}

func (m *MockCheckoutService) SelectSavedAddress(ctx context.Context, id string, addressID uuid.UUID) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, addressID))
}

func (m *MockCheckoutService) SetSaveAddress(ctx context.Context, id string, save bool) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, save))
}

func (m *MockCheckoutService) Quotes(ctx context.Context, id string) ([]checkout.ShippingQuote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]checkout.ShippingQuote), args.Error(1)
}

func (m *MockCheckoutService) BindShipping(ctx context.Context, id, quoteID string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, quoteID))
}

func (m *MockCheckoutService) ApplyCoupon(ctx context.Context, id, code string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, code))
}

func (m *MockCheckoutService) RemoveCoupon(ctx context.Context, id string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockCheckoutService) SetReferral(ctx context.Context, id, code string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, code))
}

func (m *MockCheckoutService) SetPaymentMethod(ctx context.Context, id string, method checkout.PaymentMethod) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, method))
}

func (m *MockCheckoutService) Next(ctx context.Context, id string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockCheckoutService) Back(ctx context.Context, id string) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockCheckoutService) GoTo(ctx context.Context, id string, stage checkout.Stage) (*checkout.Session, error) {
	return m.session(m.Called(ctx, id, stage))
}

func (m *MockCheckoutService) Place(ctx context.Context, id string) (*checkout.PlacementResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.PlacementResult), args.Error(1)
}

func (m *MockCheckoutService) RetryPayment(ctx context.Context, id string) (*checkout.PaymentAttempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.PaymentAttempt), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*checkout.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Order), args.Error(1)
}

func (m *MockOrderService) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, newStatus checkout.OrderStatus, from order.AttemptRef) error {
	args := m.Called(ctx, orderID, newStatus, from)
	return args.Error(0)
}

type MockAddressLister struct {
	mock.Mock
}

func (m *MockAddressLister) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]checkout.SavedAddress, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]checkout.SavedAddress), args.Error(1)
}

type stubParser struct {
	settlement *payment.Settlement
	err        error
	signature  string
}

func (p *stubParser) Parse(_ []byte, signature string) (*payment.Settlement, error) {
	p.signature = signature
	return p.settlement, p.err
}
