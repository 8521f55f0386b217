package service

import (
	"context"
	"strings"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

const maxApplyAttempts = 3

// CouponLookup finds coupons by code. A nil coupon with a nil error means
// the code does not exist.
type CouponLookup interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// CouponService applies coupon codes to session carts
type CouponService struct {
	carts   *cart.Store
	coupons CouponLookup
	logger  *zap.Logger
}

// NewCouponService creates a new coupon service
func NewCouponService(carts *cart.Store, coupons CouponLookup) *CouponService {
	return &CouponService{
		carts:   carts,
		coupons: coupons,
		logger:  util.GetLogger(),
	}
}

// ApplyOptions tunes a coupon application
type ApplyOptions struct {
	// Silent suppresses the user-facing message.
	Silent bool
}

// ApplyResult describes what a coupon application did
type ApplyResult struct {
	Status   models.CouponStatus `json:"status"`
	Discount decimal.Decimal     `json:"discount"`
	Message  string              `json:"message,omitempty"`
	// Skipped is set when the code was already applied to this cart.
	Skipped bool `json:"skipped"`
}

// Apply validates code against the session cart and records the outcome.
// Lookup failures are treated the same as an unknown code.
func (s *CouponService) Apply(ctx context.Context, sessionID, code string, opts ApplyOptions) (models.CartState, ApplyResult) {
	ctx, span := util.StartSessionSpan(ctx, "CouponService.Apply", sessionID)
	defer span.End()

	code = strings.TrimSpace(code)
	state := s.carts.Load(ctx, sessionID)

	if code != "" && code == state.CouponCode &&
		state.CouponStatus != models.CouponStatusNone &&
		state.DiscountRevision == state.Revision {
		return state, ApplyResult{Status: state.CouponStatus, Discount: state.Discount, Skipped: true}
	}

	coupon, err := s.lookup(ctx, code)
	if err != nil {
		s.logger.Warn("Coupon lookup failed, treating as invalid",
			zap.String("session_id", sessionID),
			zap.String("code", code),
			zap.Error(err))
	}

	var result ApplyResult
	next := state
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		var actions []cart.Action
		result, actions = evaluateCoupon(coupon, next.Subtotal, opts)

		next, err = s.carts.DispatchAt(ctx, sessionID, next.Revision, actions...)
		if err == nil {
			break
		}
		s.logger.Debug("Cart changed during coupon application, re-evaluating",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		result.Skipped = true
	}

	util.CouponApplicationsTotal.WithLabelValues(string(result.Status)).Inc()

	s.logger.Info("Coupon applied",
		zap.String("session_id", sessionID),
		zap.String("code", code),
		zap.String("status", string(result.Status)),
		zap.String("discount", result.Discount.String()),
		zap.Bool("silent", opts.Silent))

	return next, result
}

func evaluateCoupon(coupon *models.Coupon, subtotal decimal.Decimal, opts ApplyOptions) (ApplyResult, []cart.Action) {
	switch {
	case coupon == nil:
		result := ApplyResult{Status: models.CouponStatusInvalid, Discount: decimal.Zero}
		if !opts.Silent {
			result.Message = "Coupon code is not valid"
		}
		return result, rejectCoupon(models.CouponStatusInvalid)

	case subtotal.LessThan(coupon.MinCartValue):
		result := ApplyResult{Status: models.CouponStatusMinCartValue, Discount: decimal.Zero}
		if !opts.Silent {
			result.Message = "Cart total is below the minimum of " + coupon.MinCartValue.StringFixed(2) + " for this coupon"
		}
		return result, rejectCoupon(models.CouponStatusMinCartValue)

	default:
		discount := CouponDiscount(coupon, subtotal)
		result := ApplyResult{Status: models.CouponStatusValid, Discount: discount}
		if !opts.Silent {
			result.Message = "Coupon applied"
		}
		id := coupon.ID
		return result, []cart.Action{
			cart.SetCouponCode(coupon.Code, &id),
			cart.SetCouponStatus(models.CouponStatusValid),
			cart.SetDiscount(discount),
		}
	}
}

func (s *CouponService) lookup(ctx context.Context, code string) (*models.Coupon, error) {
	if code == "" {
		return nil, nil
	}
	coupon, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon != nil && !coupon.Active {
		return nil, nil
	}
	return coupon, nil
}

func rejectCoupon(status models.CouponStatus) []cart.Action {
	return []cart.Action{
		cart.SetCouponCode("", nil),
		cart.SetCouponStatus(status),
		cart.SetDiscount(decimal.Zero),
	}
}

// CouponDiscount computes the discount a coupon grants on subtotal.
// Percentage values are percentage points. The result is rounded to cents
// and kept within [0, subtotal].
func CouponDiscount(coupon *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountTypePercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(hundred)
	default:
		discount = coupon.DiscountValue
	}

	discount = discount.Round(2)
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
