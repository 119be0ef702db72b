package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

const (
	DefaultBaseURL  = "https://api.goshippo.com"
	DefaultCurrency = "BRL"
)

var ErrRatesUnavailable = errors.New("shipping rates are temporarily unavailable")

// Origin is the warehouse every parcel ships from.
type Origin struct {
	Name       string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

type Config struct {
	APIKey   string
	BaseURL  string
	Country  string
	Currency string
	Origin   Origin
	Timeout  time.Duration
}

// ShippoProvider implements checkout.RateProvider on top of the Shippo
// shipments API. Calls go through a circuit breaker so a degraded carrier
// API fails fast instead of stalling every address step.
type ShippoProvider struct {
	apiKey     string
	baseURL    string
	country    string
	currency   string
	origin     Origin
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]checkout.ShippingQuote]
}

func NewShippoProvider(cfg Config) *ShippoProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	currency := cfg.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	return &ShippoProvider{
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		country:  cfg.Country,
		currency: currency,
		origin:   cfg.Origin,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[[]checkout.ShippingQuote](gobreaker.Settings{
			Name:        "shippo",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("shipping: circuit breaker state changed")
			},
		}),
	}
}

type shippoAddress struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type shippoParcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shippoShipmentRequest struct {
	AddressFrom shippoAddress  `json:"address_from"`
	AddressTo   shippoAddress  `json:"address_to"`
	Parcels     []shippoParcel `json:"parcels"`
	Async       bool           `json:"async"`
}

type shippoRate struct {
	ObjectID     string `json:"object_id"`
	Provider     string `json:"provider"`
	ServiceLevel struct {
		Name string `json:"name"`
	} `json:"servicelevel"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	EstimatedDays int    `json:"estimated_days"`
}

type shippoShipmentResponse struct {
	Rates []shippoRate `json:"rates"`
}

// GetRates creates a Shippo shipment for the parcel and returns its rates,
// cheapest first.
func (s *ShippoProvider) GetRates(ctx context.Context, addr checkout.DeliveryAddress, parcel checkout.Parcel) ([]checkout.ShippingQuote, error) {
	quotes, err := s.breaker.Execute(func() ([]checkout.ShippingQuote, error) {
		return s.getRates(ctx, addr, parcel)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrRatesUnavailable
		}
		return nil, err
	}
	return quotes, nil
}

func (s *ShippoProvider) getRates(ctx context.Context, addr checkout.DeliveryAddress, parcel checkout.Parcel) ([]checkout.ShippingQuote, error) {
	reqBody := shippoShipmentRequest{
		AddressFrom: shippoAddress{
			Name:    s.origin.Name,
			Street1: s.origin.Street,
			City:    s.origin.City,
			State:   s.origin.State,
			Zip:     s.origin.PostalCode,
			Country: s.origin.Country,
		},
		AddressTo: toShippoAddress(addr, s.country),
		Parcels: []shippoParcel{
			{
				Length:       dimension(parcel.LengthCm),
				Width:        dimension(parcel.WidthCm),
				Height:       dimension(parcel.HeightCm),
				DistanceUnit: "cm",
				Weight:       parcel.WeightKg.StringFixed(3),
				MassUnit:     "kg",
			},
		},
		Async: false,
	}

	var resp shippoShipmentResponse
	if err := s.doRequest(ctx, http.MethodPost, "/shipments/", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("shippo GetRates: %w", err)
	}

	// Carriers may quote in their own currency; prices are never converted.
	quotes := make([]checkout.ShippingQuote, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		if !strings.EqualFold(r.Currency, s.currency) {
			log.Warn().Str("rate_id", r.ObjectID).Str("currency", r.Currency).Str("want", s.currency).Msg("shipping: skipping rate quoted in another currency")
			continue
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			log.Warn().Err(err).Str("rate_id", r.ObjectID).Msg("shipping: skipping rate with unparsable amount")
			continue
		}
		quotes = append(quotes, checkout.ShippingQuote{
			ID:           r.ObjectID,
			Carrier:      r.Provider,
			Service:      r.ServiceLevel.Name,
			Price:        amount,
			DeliveryDays: r.EstimatedDays,
		})
	}
	slices.SortStableFunc(quotes, func(a, b checkout.ShippingQuote) int {
		return a.Price.Cmp(b.Price)
	})
	return quotes, nil
}

func (s *ShippoProvider) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "ShippoToken "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("shippo API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func toShippoAddress(a checkout.DeliveryAddress, country string) shippoAddress {
	street := a.Street + ", " + a.Number
	if a.Neighborhood != "" {
		street += " - " + a.Neighborhood
	}
	return shippoAddress{
		Street1: street,
		Street2: a.Complement,
		City:    a.City,
		State:   a.State,
		Zip:     a.PostalCode,
		Country: country,
	}
}

// dimension keeps carriers from rejecting a zero-size parcel.
func dimension(d decimal.Decimal) string {
	if d.LessThan(decimal.NewFromInt(1)) {
		return "1"
	}
	return d.StringFixed(1)
}
