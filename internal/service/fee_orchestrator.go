package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeSource supplies the active tax rate and shipping tiers. A nil tax
// rate with a nil error means no rate is active.
type FeeSource interface {
	GetActiveTaxRate(ctx context.Context) (*models.TaxRate, error)
	GetActiveShippingTiers(ctx context.Context) ([]models.ShippingTier, error)
}

// FeeOrchestrator keeps tax, shipping and discount in line with the
// current cart contents
type FeeOrchestrator struct {
	carts   *cart.Store
	fees    FeeSource
	coupons *CouponService
	logger  *zap.Logger
}

// NewFeeOrchestrator creates a new fee orchestrator
func NewFeeOrchestrator(carts *cart.Store, fees FeeSource, coupons *CouponService) *FeeOrchestrator {
	return &FeeOrchestrator{
		carts:   carts,
		fees:    fees,
		coupons: coupons,
		logger:  util.GetLogger(),
	}
}

// Sync recomputes the fees for the session cart and re-validates its
// coupon. Lookup failures degrade to a zero fee. Results computed for an
// item list that changed in the meantime are dropped.
func (o *FeeOrchestrator) Sync(ctx context.Context, sessionID string) models.CartState {
	ctx, span := util.StartSessionSpan(ctx, "FeeOrchestrator.Sync", sessionID)
	defer span.End()

	state := o.carts.Load(ctx, sessionID)
	subtotal := state.Subtotal

	tax := o.taxFee(ctx, sessionID, subtotal)
	shipping := o.shippingFee(ctx, sessionID, subtotal)

	next, err := o.carts.DispatchAt(ctx, sessionID, state.Revision,
		cart.SetTaxFee(tax),
		cart.SetShippingFee(shipping),
	)
	if errors.Is(err, cart.ErrStaleRevision) {
		util.FeeSyncStaleTotal.Inc()
		o.logger.Debug("Dropping fees computed for an older cart",
			zap.String("session_id", sessionID),
			zap.Int64("revision", state.Revision),
			zap.Int64("current_revision", next.Revision))
		return next
	}

	return o.syncDiscount(ctx, sessionID, next)
}

func (o *FeeOrchestrator) syncDiscount(ctx context.Context, sessionID string, state models.CartState) models.CartState {
	if state.CouponCode == "" {
		if state.Discount.IsZero() {
			return state
		}
		next, err := o.carts.DispatchAt(ctx, sessionID, state.Revision, cart.SetDiscount(decimal.Zero))
		if err != nil {
			util.FeeSyncStaleTotal.Inc()
		}
		return next
	}

	if state.CouponStatus == models.CouponStatusNone || state.DiscountRevision != state.Revision {
		next, _ := o.coupons.Apply(ctx, sessionID, state.CouponCode, ApplyOptions{Silent: true})
		return next
	}
	return state
}

func (o *FeeOrchestrator) taxFee(ctx context.Context, sessionID string, subtotal decimal.Decimal) decimal.Decimal {
	ctx, span := util.StartSpan(ctx, "FeeOrchestrator.taxFee")
	defer span.End()

	start := time.Now()
	rate, err := o.fees.GetActiveTaxRate(ctx)
	util.FeeLookupLatency.WithLabelValues("tax").Observe(time.Since(start).Seconds())
	if err != nil {
		util.FeeLookupFailuresTotal.WithLabelValues("tax").Inc()
		o.logger.Warn("Tax rate lookup failed, charging no tax",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return decimal.Zero
	}
	if rate == nil {
		return decimal.Zero
	}
	return percentOf(subtotal, rate.Rate)
}

func (o *FeeOrchestrator) shippingFee(ctx context.Context, sessionID string, subtotal decimal.Decimal) decimal.Decimal {
	ctx, span := util.StartSpan(ctx, "FeeOrchestrator.shippingFee")
	defer span.End()

	start := time.Now()
	tiers, err := o.fees.GetActiveShippingTiers(ctx)
	util.FeeLookupLatency.WithLabelValues("shipping").Observe(time.Since(start).Seconds())
	if err != nil {
		util.FeeLookupFailuresTotal.WithLabelValues("shipping").Inc()
		o.logger.Warn("Shipping tier lookup failed, charging no shipping",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return decimal.Zero
	}

	tier, ok := SelectShippingTier(tiers, subtotal)
	if !ok {
		return decimal.Zero
	}
	return percentOf(subtotal, tier.PercentageRate)
}

// SelectShippingTier returns the first tier whose range contains subtotal
func SelectShippingTier(tiers []models.ShippingTier, subtotal decimal.Decimal) (models.ShippingTier, bool) {
	for _, tier := range tiers {
		if tier.Matches(subtotal) {
			return tier, true
		}
	}
	return models.ShippingTier{}, false
}

func percentOf(amount, rate decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(rate).Div(hundred).Round(2)
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee
}
