package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type CouponValidator struct {
	store CouponStore
	now   func() time.Time
}

func NewCouponValidator(store CouponStore) *CouponValidator {
	return &CouponValidator{store: store, now: time.Now}
}

// Validate checks, in order: the code exists and is active, the subtotal meets
// the minimum, and the usage cap is not reached. It never touches the usage
// counter. Rejections are returned as *CouponRejection.
func (v *CouponValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*AppliedCoupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &CouponRejection{Code: code, Reason: RejectInvalidCode}
	}

	coupon, err := v.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, &CouponRejection{Code: code, Reason: RejectInvalidCode}
		}
		log.Error().Err(err).Str("coupon_code", code).Msg("checkout: failed to look up coupon")
		return nil, fmt.Errorf("checkout: look up coupon: %w", err)
	}

	if !coupon.ActiveAt(v.now()) {
		return nil, &CouponRejection{Code: code, Reason: RejectInvalidCode}
	}

	if coupon.MinOrderValue.Valid && subtotal.LessThan(coupon.MinOrderValue.Decimal) {
		return nil, &CouponRejection{Code: code, Reason: RejectBelowMinimum}
	}

	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return nil, &CouponRejection{Code: code, Reason: RejectExhausted}
	}

	return &AppliedCoupon{
		CouponID:       coupon.ID,
		Code:           strings.ToUpper(coupon.Code),
		DiscountType:   coupon.DiscountType,
		DiscountValue:  coupon.DiscountValue,
		DiscountAmount: CouponDiscount(coupon.DiscountType, coupon.DiscountValue, subtotal),
	}, nil
}
