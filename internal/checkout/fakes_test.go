package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type fakeOrderStore struct {
	mu       sync.Mutex
	headers  []*Order
	lines    map[uuid.UUID][]OrderLine
	attempts []*PaymentAttempt

	createHeaderFunc func(ctx context.Context, order *Order) error
	createLinesFunc  func(ctx context.Context, orderID uuid.UUID, lines []OrderLine) error
	byKeyFunc        func(ctx context.Context, key string) (*Order, error)
	byIDFunc         func(ctx context.Context, id uuid.UUID) (*Order, error)
	addAttemptFunc   func(ctx context.Context, attempt *PaymentAttempt) error
}

func (f *fakeOrderStore) CreateOrderHeader(ctx context.Context, order *Order) error {
	if f.createHeaderFunc != nil {
		if err := f.createHeaderFunc(ctx, order); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, order)
	return nil
}

func (f *fakeOrderStore) CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []OrderLine) error {
	if f.createLinesFunc != nil {
		if err := f.createLinesFunc(ctx, orderID, lines); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lines == nil {
		f.lines = make(map[uuid.UUID][]OrderLine)
	}
	f.lines[orderID] = append(f.lines[orderID], lines...)
	return nil
}

func (f *fakeOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	if f.byKeyFunc != nil {
		return f.byKeyFunc(ctx, key)
	}
	return nil, ErrOrderNotFound
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	if f.byIDFunc != nil {
		return f.byIDFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.headers {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (f *fakeOrderStore) AddPaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	if f.addAttemptFunc != nil {
		if err := f.addAttemptFunc(ctx, attempt); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

// addressCall records the order of address-book writes.
type addressCall struct {
	op   string
	addr *SavedAddress
}

type fakeAddressStore struct {
	saved []SavedAddress
	calls []addressCall

	clearErr  error
	updateErr error
	insertErr error
}

func (f *fakeAddressStore) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]SavedAddress, error) {
	var out []SavedAddress
	for _, a := range f.saved {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAddressStore) GetByID(_ context.Context, id uuid.UUID) (*SavedAddress, error) {
	for i := range f.saved {
		if f.saved[i].ID == id {
			a := f.saved[i]
			return &a, nil
		}
	}
	return nil, ErrAddressNotFound
}

func (f *fakeAddressStore) ClearDefault(_ context.Context, _ uuid.UUID) error {
	f.calls = append(f.calls, addressCall{op: "clear"})
	return f.clearErr
}

func (f *fakeAddressStore) Update(_ context.Context, addr *SavedAddress) error {
	f.calls = append(f.calls, addressCall{op: "update", addr: addr})
	return f.updateErr
}

func (f *fakeAddressStore) Insert(_ context.Context, addr *SavedAddress) error {
	f.calls = append(f.calls, addressCall{op: "insert", addr: addr})
	return f.insertErr
}

func (f *fakeAddressStore) ops() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeCouponStore struct {
	coupons    map[string]*Coupon
	findErr    error
	incErr     error
	increments map[uuid.UUID]int
}

func (f *fakeCouponStore) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for k, c := range f.coupons {
		if strings.EqualFold(k, code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (f *fakeCouponStore) IncrementUsage(_ context.Context, couponID uuid.UUID) error {
	if f.incErr != nil {
		return f.incErr
	}
	if f.increments == nil {
		f.increments = make(map[uuid.UUID]int)
	}
	f.increments[couponID]++
	return nil
}

type fakeSellers struct {
	sellers map[string]*Seller
	err     error
}

func (f *fakeSellers) FindActiveByCode(_ context.Context, code string) (*Seller, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.sellers[code]; ok {
		return s, nil
	}
	return nil, ErrSellerNotFound
}

type fakeRates struct {
	quotes []ShippingQuote
	err    error
	calls  int
	parcel Parcel
}

func (f *fakeRates) GetRates(_ context.Context, _ DeliveryAddress, parcel Parcel) ([]ShippingQuote, error) {
	f.calls++
	f.parcel = parcel
	return f.quotes, f.err
}

type fakeGateway struct {
	attempt  *PaymentAttempt
	err      error
	requests []PaymentRequest
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, req PaymentRequest) (*PaymentAttempt, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	a := *f.attempt
	return &a, nil
}

type fakeEvents struct {
	events []OrderPlacedEvent
	err    error
}

func (f *fakeEvents) PublishOrderPlaced(_ context.Context, e OrderPlacedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

type fakeCatalog struct {
	lines map[uuid.UUID]CartLine
	stock map[uuid.UUID]int
}

func (f *fakeCatalog) ResolveLine(_ context.Context, sel LineSelection) (CartLine, error) {
	line, ok := f.lines[sel.ProductID]
	if !ok {
		return CartLine{}, ErrProductNotFound
	}
	if stock, limited := f.stock[sel.ProductID]; limited && sel.Quantity > stock {
		return CartLine{}, &ValidationError{Field: "quantity", Message: fmt.Sprintf("only %d in stock", stock)}
	}
	line.Quantity = sel.Quantity
	line.ProductID = sel.ProductID
	line.VariantID = sel.VariantID
	line.OptionIDs = sel.OptionIDs
	return line, nil
}

type memSessions struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string][]byte)}
}

func (m *memSessions) Save(_ context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sess.ID] = raw
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	raw, ok := m.data[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type keyLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *keyLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, ErrPlacementInFlight
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type countingRecorder struct {
	placements map[string]int
	steps      map[Step]int
	dispatches map[bool]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		placements: make(map[string]int),
		steps:      make(map[Step]int),
		dispatches: make(map[bool]int),
	}
}

func (r *countingRecorder) PlacementFinished(outcome string) { r.placements[outcome]++ }

func (r *countingRecorder) StepFailed(step Step) { r.steps[step]++ }

func (r *countingRecorder) PaymentDispatched(_ PaymentMethod, ok bool) { r.dispatches[ok]++ }

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustUUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

func completeAddress() DeliveryAddress {
	return DeliveryAddress{
		PostalCode:   "01310-100",
		Street:       "Avenida Paulista",
		Number:       "1578",
		Neighborhood: "Bela Vista",
		City:         "São Paulo",
		State:        "SP",
	}
}

func completeCustomer() CustomerIdentity {
	return CustomerIdentity{
		Name:     "Ana Souza",
		Email:    "ana@example.com",
		Phone:    "+5511999990000",
		Document: "123.456.789-09",
	}
}

// readySession builds a session on the Payment stage with every gate satisfied.
func readySession(engine *PricingEngine) *Session {
	sess := NewSession("sess-1", "key-1", uuid.NullUUID{}, "BRL", fixedNow)
	sess.Cart.Lines = []CartLine{
		{ProductID: mustUUID(), ProductName: "Mug", Quantity: 2, UnitPrice: dec("50.00"), WeightKg: dec("0.4")},
		{ProductID: mustUUID(), ProductName: "Poster", Quantity: 1, UnitPrice: dec("100.00"), WeightKg: dec("0.2")},
	}
	sess.Customer = completeCustomer()
	sess.Address = completeAddress()
	sess.Shipping = &ShippingBinding{
		Quote:   ShippingQuote{ID: "rate-1", Carrier: "Correios", Service: "SEDEX", Price: dec("15.00"), DeliveryDays: 3},
		Address: sess.Address,
	}
	sess.PaymentMethod = PaymentMethodInstantTransfer
	sess.Stage = StagePayment
	sess.Reached = StagePayment
	sess.Reprice(engine)
	return sess
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}
