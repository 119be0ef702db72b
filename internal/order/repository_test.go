package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/db/dbtest"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
)

func newOrder(t *testing.T) *checkout.Order {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &checkout.Order{
		ID:             id,
		Reference:      "REF-" + id.String()[:8],
		IdempotencyKey: "key-" + id.String(),
		SessionID:      "sess-" + id.String(),
		Customer: checkout.CustomerIdentity{
			Name:  "Ana Souza",
			Email: "ana@example.com",
			Phone: "+5511999990000",
		},
		Address: checkout.DeliveryAddress{
			PostalCode:   "01310-100",
			Street:       "Avenida Paulista",
			Number:       "1578",
			Neighborhood: "Bela Vista",
			City:         "São Paulo",
			State:        "SP",
		},
		Prices: checkout.PriceBreakdown{
			Subtotal:              decimal.RequireFromString("200.00"),
			CouponDiscount:        decimal.RequireFromString("20.00"),
			PaymentMethodDiscount: decimal.RequireFromString("9.00"),
			ShippingCost:          decimal.RequireFromString("15.00"),
			FinalTotal:            decimal.RequireFromString("186.00"),
		},
		Currency:      "BRL",
		PaymentMethod: checkout.PaymentMethodInstantTransfer,
		Status:        checkout.OrderStatusPending,
		CouponCode:    "SAVE10",
		Shipping: checkout.ShippingQuote{
			ID:           "rate-1",
			Carrier:      "Correios",
			Service:      "SEDEX",
			Price:        decimal.RequireFromString("15.00"),
			DeliveryDays: 3,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepository_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := order.NewRepository(dbtest.Pool(t))
	o := newOrder(t)

	require.NoError(t, repo.CreateOrderHeader(ctx, o))

	dup := newOrder(t)
	dup.IdempotencyKey = o.IdempotencyKey
	assert.ErrorIs(t, repo.CreateOrderHeader(ctx, dup), checkout.ErrDuplicateIdempotency)

	lines := []checkout.OrderLine{
		{ID: uuid.Must(uuid.NewV4()), Position: 1, ProductID: uuid.Must(uuid.NewV4()), ProductName: "Mug",
			UnitPrice: decimal.RequireFromString("50.00"), Quantity: 2, ExtendedPrice: decimal.RequireFromString("100.00")},
		{ID: uuid.Must(uuid.NewV4()), Position: 2, ProductID: uuid.Must(uuid.NewV4()), ProductName: "Poster",
			UnitPrice: decimal.RequireFromString("100.00"), Quantity: 1, ExtendedPrice: decimal.RequireFromString("100.00")},
	}
	require.NoError(t, repo.CreateOrderLines(ctx, o.ID, lines))

	attempt := &checkout.PaymentAttempt{
		ID:               uuid.Must(uuid.NewV4()),
		OrderID:          o.ID,
		Method:           checkout.PaymentMethodInstantTransfer,
		GatewayReference: "pi_123",
		QRCode:           "00020126pix",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, repo.AddPaymentAttempt(ctx, attempt))

	byKey, err := repo.GetOrderByIdempotencyKey(ctx, o.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byKey.ID)
	assert.True(t, byKey.Prices.FinalTotal.Equal(o.Prices.FinalTotal))
	assert.Equal(t, o.Address, byKey.Address)
	assert.Equal(t, o.Shipping.ID, byKey.Shipping.ID)
	require.Len(t, byKey.Lines, 2)
	assert.Equal(t, "Mug", byKey.Lines[0].ProductName)
	require.Len(t, byKey.PaymentAttempts, 1)
	assert.Equal(t, "pi_123", byKey.PaymentAttempts[0].GatewayReference)

	require.NoError(t, repo.UpdatePaymentStatus(ctx, o.ID, checkout.OrderStatusPaid))
	byID, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.OrderStatusPaid, byID.Status)
}

func TestRepository_CreateOrderLines_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := order.NewRepository(dbtest.Pool(t))
	o := newOrder(t)
	require.NoError(t, repo.CreateOrderHeader(ctx, o))

	line := checkout.OrderLine{ID: uuid.Must(uuid.NewV4()), Position: 1, ProductID: uuid.Must(uuid.NewV4()), ProductName: "Mug",
		UnitPrice: decimal.RequireFromString("50.00"), Quantity: 1, ExtendedPrice: decimal.RequireFromString("50.00")}
	clash := line
	clash.ID = uuid.Must(uuid.NewV4())

	assert.Error(t, repo.CreateOrderLines(ctx, o.ID, []checkout.OrderLine{line, clash}))

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := order.NewRepository(dbtest.Pool(t))
	missing := uuid.Must(uuid.NewV4())

	_, err := repo.GetOrderByID(ctx, missing)
	assert.ErrorIs(t, err, checkout.ErrOrderNotFound)

	assert.ErrorIs(t, repo.UpdatePaymentStatus(ctx, missing, checkout.OrderStatusPaid), checkout.ErrOrderNotFound)
}
