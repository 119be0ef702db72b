package checkout

import (
	"context"
	"fmt"
)

// ShippingQuoteBinder fetches quotes for an address and locks the buyer's
// choice to that address. Invalidating a binding on address edits is the
// session's job, not the binder's.
type ShippingQuoteBinder struct {
	rates RateProvider
}

func NewShippingQuoteBinder(rates RateProvider) *ShippingQuoteBinder {
	return &ShippingQuoteBinder{rates: rates}
}

func (b *ShippingQuoteBinder) Quote(ctx context.Context, addr DeliveryAddress, cart CartSnapshot) ([]ShippingQuote, error) {
	if !addr.Complete() {
		return nil, ErrAddressIncomplete
	}
	if cart.Empty() {
		return nil, ErrEmptyCart
	}

	quotes, err := b.rates.GetRates(ctx, addr, cart.Parcel())
	if err != nil {
		return nil, fmt.Errorf("checkout: fetch shipping quotes: %w", err)
	}
	return quotes, nil
}

// Bind selects quoteID out of the offered quotes.
func (b *ShippingQuoteBinder) Bind(offered []ShippingQuote, quoteID string, addr DeliveryAddress) (*ShippingBinding, error) {
	for _, q := range offered {
		if q.ID == quoteID {
			return &ShippingBinding{Quote: q, Address: addr}, nil
		}
	}
	return nil, ErrQuoteNotOffered
}
