package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// ReferralVerifier never surfaces an error to the buyer: an unknown, inactive
// or unreachable seller simply yields Verified=false.
type ReferralVerifier struct {
	registry SellerRegistry
}

func NewReferralVerifier(registry SellerRegistry) *ReferralVerifier {
	return &ReferralVerifier{registry: registry}
}

func (v *ReferralVerifier) Verify(ctx context.Context, code string) ReferralResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return ReferralResult{}
	}

	seller, err := v.registry.FindActiveByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrSellerNotFound) {
			log.Warn().Err(err).Str("referral_code", code).Msg("checkout: referral lookup failed, ignoring code")
		}
		return ReferralResult{Code: code}
	}
	if !seller.Active {
		return ReferralResult{Code: code}
	}

	return ReferralResult{
		Code:        code,
		Verified:    true,
		SellerID:    uuid.NullUUID{UUID: seller.ID, Valid: true},
		DisplayName: seller.DisplayName,
	}
}
