package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway is temporarily unavailable")
	ErrMissingTaxID       = errors.New("voucher payments require the buyer's tax id")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
)

const (
	pixExpiry     = time.Hour
	boletoDays    = 3
	countryBrazil = "BR"
)

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// stripeAPI is the slice of the Stripe client the gateway uses.
type stripeAPI interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type clientAPI struct {
	api *client.API
}

func (c clientAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return c.api.PaymentIntents.New(params)
}

func (c clientAPI) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

// StripeGateway implements checkout.PaymentGateway. Instant transfers are Pix
// payment intents answered with a QR code, vouchers are Boleto intents
// answered with a voucher link, and cards go through a hosted Checkout
// Session the buyer is redirected to.
type StripeGateway struct {
	api        stripeAPI
	successURL string
	cancelURL  string
	breaker    *gobreaker.CircuitBreaker[*checkout.PaymentAttempt]
}

func NewStripeGateway(cfg Config) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newStripeGateway(clientAPI{api: sc}, cfg)
}

func newStripeGateway(api stripeAPI, cfg Config) *StripeGateway {
	return &StripeGateway{
		api:        api,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		breaker: gobreaker.NewCircuitBreaker[*checkout.PaymentAttempt](gobreaker.Settings{
			Name:        "stripe",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// Card errors and bad requests are the buyer's problem, not an outage.
				var stripeErr *stripe.Error
				if errors.As(err, &stripeErr) {
					return stripeErr.HTTPStatusCode < 500
				}
				return err == nil || errors.Is(err, ErrMissingTaxID) || errors.Is(err, ErrUnsupportedMethod)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("payment: circuit breaker state changed")
			},
		}),
	}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req checkout.PaymentRequest) (*checkout.PaymentAttempt, error) {
	attempt, err := g.breaker.Execute(func() (*checkout.PaymentAttempt, error) {
		switch req.Method {
		case checkout.PaymentMethodInstantTransfer:
			return g.pix(ctx, req)
		case checkout.PaymentMethodVoucher:
			return g.boleto(ctx, req)
		case checkout.PaymentMethodCard:
			return g.cardCheckout(ctx, req)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrGatewayUnavailable
		}
		return nil, err
	}
	return attempt, nil
}

func (g *StripeGateway) pix(ctx context.Context, req checkout.PaymentRequest) (*checkout.PaymentAttempt, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(req.Amount)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		Confirm:            stripe.Bool(true),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("pix"),
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			Pix: &stripe.PaymentIntentPaymentMethodOptionsPixParams{
				ExpiresAfterSeconds: stripe.Int64(int64(pixExpiry / time.Second)),
			},
		},
		ReceiptEmail: stripe.String(req.Customer.Email),
	}
	decorate(ctx, &params.Params, req)
	addMetadata(params.AddMetadata, req)

	pi, err := g.api.NewPaymentIntent(params)
	if err != nil {
		return nil, fmt.Errorf("stripe pix intent: %w", err)
	}

	attempt := &checkout.PaymentAttempt{GatewayReference: pi.ID}
	if pi.NextAction != nil && pi.NextAction.PixDisplayQRCode != nil {
		qr := pi.NextAction.PixDisplayQRCode
		attempt.QRCode = qr.Data
		attempt.QRCodeImageURL = qr.ImageURLPNG
		attempt.ExpiresAt = unixTime(qr.ExpiresAt)
	}
	return attempt, nil
}

func (g *StripeGateway) boleto(ctx context.Context, req checkout.PaymentRequest) (*checkout.PaymentAttempt, error) {
	taxID := digits(req.Customer.Document)
	if taxID == "" {
		return nil, ErrMissingTaxID
	}

	line1 := req.Address.Street + ", " + req.Address.Number
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(req.Amount)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"boleto"}),
		Confirm:            stripe.Bool(true),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("boleto"),
			Boleto: &stripe.PaymentMethodBoletoParams{
				TaxID: stripe.String(taxID),
			},
			BillingDetails: &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{
				Name:  stripe.String(req.Customer.Name),
				Email: stripe.String(req.Customer.Email),
				Address: &stripe.AddressParams{
					Line1:      stripe.String(line1),
					Line2:      stripe.String(req.Address.Neighborhood),
					City:       stripe.String(req.Address.City),
					State:      stripe.String(req.Address.State),
					PostalCode: stripe.String(req.Address.PostalCode),
					Country:    stripe.String(countryBrazil),
				},
			},
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			Boleto: &stripe.PaymentIntentPaymentMethodOptionsBoletoParams{
				ExpiresAfterDays: stripe.Int64(boletoDays),
			},
		},
	}
	decorate(ctx, &params.Params, req)
	addMetadata(params.AddMetadata, req)

	pi, err := g.api.NewPaymentIntent(params)
	if err != nil {
		return nil, fmt.Errorf("stripe boleto intent: %w", err)
	}

	attempt := &checkout.PaymentAttempt{GatewayReference: pi.ID}
	if pi.NextAction != nil && pi.NextAction.BoletoDisplayDetails != nil {
		details := pi.NextAction.BoletoDisplayDetails
		attempt.VoucherURL = details.HostedVoucherURL
		attempt.VoucherNumber = details.Number
		attempt.ExpiresAt = unixTime(details.ExpiresAt)
	}
	return attempt, nil
}

func (g *StripeGateway) cardCheckout(ctx context.Context, req checkout.PaymentRequest) (*checkout.PaymentAttempt, error) {
	orderID := req.OrderID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
		CustomerEmail:      stripe.String(req.Customer.Email),
		ClientReferenceID:  stripe.String(orderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(minorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Order " + req.Reference),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				metadataOrderID:   orderID,
				metadataReference: req.Reference,
				metadataAttemptID: req.AttemptID.String(),
			},
		},
	}
	decorate(ctx, &params.Params, req)
	addMetadata(params.AddMetadata, req)

	sess, err := g.api.NewCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	return &checkout.PaymentAttempt{
		GatewayReference: sess.ID,
		RedirectURL:      sess.URL,
		ExpiresAt:        unixTime(sess.ExpiresAt),
	}, nil
}

// decorate keys the request on the attempt id, so a network retry of the same
// attempt never charges twice.
func decorate(ctx context.Context, params *stripe.Params, req checkout.PaymentRequest) {
	params.Context = ctx
	params.SetIdempotencyKey(req.AttemptID.String())
}

func addMetadata(add func(key, value string), req checkout.PaymentRequest) {
	add(metadataOrderID, req.OrderID.String())
	add(metadataReference, req.Reference)
	add(metadataAttemptID, req.AttemptID.String())
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
