package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/storage"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is the result class of a payment attempt or return callback
type Outcome string

// Payment outcomes
const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeDeclined    Outcome = "declined"
	OutcomeRedirect    Outcome = "redirect"
	OutcomeProcessing  Outcome = "processing"
	OutcomeFailed      Outcome = "failed"
	OutcomeOrderFailed Outcome = "order_failed"
	OutcomeUnresolved  Outcome = "unresolved"
)

// Customer-facing messages
const (
	MessageOrderFailed = "Payment succeeded but the order could not be recorded. Please contact support."
	MessageUnresolved  = "We could not match this payment to an order. Please contact support before paying again."
	MessageRetry       = "We could not confirm your payment. Please try again."
	MessageProcessing  = "Your payment is being processed."
)

// ClientSecretParam is the return URL query parameter carrying the intent secret
const ClientSecretParam = "payment_intent_client_secret"

// PaymentResult is what a payment attempt or return callback produced
type PaymentResult struct {
	Outcome      Outcome       `json:"outcome"`
	Message      string        `json:"message,omitempty"`
	IntentID     string        `json:"intent_id,omitempty"`
	ClientSecret string        `json:"client_secret,omitempty"`
	RedirectURL  string        `json:"redirect_url,omitempty"`
	Order        *models.Order `json:"order,omitempty"`
}

// OrderPlacer records orders for paid pending orders. Creation is
// idempotent on the payment intent id.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, pending *models.PendingOrder) (*models.Order, error)
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
}

// CouponUsageRecorder marks a coupon as used by an order
type CouponUsageRecorder interface {
	MarkCouponUsed(ctx context.Context, couponID, orderID int64) error
}

// Guard TTL defaults
const (
	DefaultCallbackGuardTTL = 24 * time.Hour
	DefaultPendingGuardTTL  = 2 * time.Minute
)

// PaymentConfig holds the payment bridge settings
type PaymentConfig struct {
	Currency  string
	MinCharge int64
	ReturnURL string
	// CallbackGuardTTL keeps the result of a processed return.
	CallbackGuardTTL time.Duration
	// PendingGuardTTL bounds how long an in-flight payment attempt or
	// return holds its key if the process dies before releasing it.
	PendingGuardTTL time.Duration
	Features        models.FeatureFlags
}

// PaymentBridge runs the intent, pending order, confirm protocol and
// finalizes orders exactly once
type PaymentBridge struct {
	provider payment.Provider
	carts    *cart.Store
	flow     *CheckoutFlow
	pending  *PendingOrders
	guard    storage.Guard
	orders   OrderPlacer
	usage    CouponUsageRecorder
	cfg      PaymentConfig
	now      func() time.Time
}

// NewPaymentBridge creates a new payment bridge
func NewPaymentBridge(
	provider payment.Provider,
	carts *cart.Store,
	flow *CheckoutFlow,
	pending *PendingOrders,
	guard storage.Guard,
	orders OrderPlacer,
	usage CouponUsageRecorder,
	cfg PaymentConfig,
) *PaymentBridge {
	if cfg.CallbackGuardTTL <= 0 {
		cfg.CallbackGuardTTL = DefaultCallbackGuardTTL
	}
	if cfg.PendingGuardTTL <= 0 {
		cfg.PendingGuardTTL = DefaultPendingGuardTTL
	}
	return &PaymentBridge{
		provider: provider,
		carts:    carts,
		flow:     flow,
		pending:  pending,
		guard:    guard,
		orders:   orders,
		usage:    usage,
		cfg:      cfg,
		now:      time.Now,
	}
}

// PayableAmount is subtotal plus the enabled fees minus the enabled
// discount, never below zero
func PayableAmount(state models.CartState, flags models.FeatureFlags) decimal.Decimal {
	amount := state.Subtotal
	if flags.EnableTaxPurchase {
		amount = amount.Add(state.TaxFee)
	}
	if flags.EnableShippingByPriceZone {
		amount = amount.Add(state.ShippingFee)
	}
	if flags.EnableDiscountCoupons {
		amount = amount.Sub(state.Discount)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// StartPayment creates an intent, stores the pending order and confirms
// the payment with methodID. Only precondition failures are returned as
// errors; provider problems are reported through the outcome. One attempt
// per session runs at a time; concurrent submissions get processing.
func (b *PaymentBridge) StartPayment(ctx context.Context, sessionID, methodID string) (PaymentResult, error) {
	ctx, span := util.StartSessionSpan(ctx, "PaymentBridge.StartPayment", sessionID)
	defer span.End()

	logger := util.SessionLogger(sessionID)

	if methodID == "" {
		return PaymentResult{}, fieldError("payment_method_id", "is required")
	}

	key := PaymentStartKey(sessionID)
	reservation, err := b.guard.Reserve(ctx, key, b.cfg.PendingGuardTTL)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to reserve payment attempt: %w", err)
	}
	if reservation.State != storage.ReservationNew {
		logger.Info("Payment attempt already in flight for session")
		return b.record(PaymentResult{Outcome: OutcomeProcessing, Message: MessageProcessing}), nil
	}
	defer func() {
		if err := b.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("Failed to release payment attempt", zap.Error(err))
		}
	}()

	checkout, err := b.flow.Get(ctx, sessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if checkout.Step != models.StepPayment {
		return PaymentResult{}, ErrStepMismatch
	}

	state := b.carts.Load(ctx, sessionID)
	if state.IsEmpty() {
		return PaymentResult{}, ErrEmptyCart
	}

	blocked, err := b.checkPreviousAttempt(ctx, sessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if blocked != nil {
		return b.record(*blocked), nil
	}

	amount := PayableAmount(state, b.cfg.Features)
	minor := payment.ToMinorUnits(amount, b.cfg.Currency, b.cfg.MinCharge)
	util.PaymentAttemptsTotal.Inc()

	attemptID := uuid.New().String()
	intent, err := b.provider.CreateIntent(ctx, payment.IntentRequest{
		Amount:   minor,
		Currency: b.cfg.Currency,
		Metadata: map[string]string{
			"session_id": sessionID,
			"attempt_id": attemptID,
		},
		IdempotencyKey: fmt.Sprintf("%s:%s", key, attemptID),
	})
	if err != nil {
		logger.Error("Failed to create payment intent", zap.Error(err))
		return b.record(PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry}), nil
	}
	logger = logger.With(zap.String("intent_id", intent.ID))

	pending := b.pendingOrder(checkout, state, amount, intent)
	if err := b.pending.Save(ctx, sessionID, pending); err != nil {
		logger.Error("Failed to store pending order, not confirming payment", zap.Error(err))
		return PaymentResult{}, err
	}

	start := time.Now()
	confirmed, err := b.provider.Confirm(ctx, payment.ConfirmRequest{
		IntentID:        intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          minor,
		Currency:        b.cfg.Currency,
		PaymentMethodID: methodID,
		Billing:         billingDetails(checkout),
		ReturnURL:       b.cfg.ReturnURL,
	})
	util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())

	base := PaymentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret}

	var decline *payment.DeclineError
	switch {
	case errors.As(err, &decline):
		logger.Info("Payment declined", zap.String("code", decline.Code))
		base.Outcome = OutcomeDeclined
		base.Message = decline.Message
		return b.record(base), nil

	case err != nil:
		logger.Error("Payment confirmation failed", zap.Error(err))
		base.Outcome = OutcomeFailed
		base.Message = MessageRetry
		return b.record(base), nil

	case confirmed.RedirectURL != "":
		base.Outcome = OutcomeRedirect
		base.RedirectURL = confirmed.RedirectURL
		return b.record(base), nil
	}

	switch confirmed.Intent.Status {
	case payment.StatusSucceeded:
		return b.record(b.finalize(ctx, sessionID, pending)), nil
	case payment.StatusProcessing:
		base.Outcome = OutcomeProcessing
		base.Message = MessageProcessing
	default:
		logger.Warn("Payment not completed after confirmation",
			zap.String("status", string(confirmed.Intent.Status)))
		base.Outcome = OutcomeFailed
		base.Message = MessageRetry
		if confirmed.Intent.FailureMessage != "" {
			base.Message = confirmed.Intent.FailureMessage
		}
	}
	return b.record(base), nil
}

// checkPreviousAttempt looks at the pending order a new attempt would
// overwrite. A captured payment still waiting for its order must go
// through RetryOrder; one still processing must not be paid twice.
func (b *PaymentBridge) checkPreviousAttempt(ctx context.Context, sessionID string) (*PaymentResult, error) {
	previous, err := b.pending.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, nil
	}

	logger := util.SessionLogger(sessionID).With(zap.String("previous_intent_id", previous.IntentID))
	intent, err := b.provider.RetrieveIntent(ctx, previous.ClientSecret)
	if err != nil {
		logger.Error("Failed to check previous payment, not starting another", zap.Error(err))
		return &PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry}, nil
	}

	switch intent.Status {
	case payment.StatusSucceeded:
		logger.Warn("Refusing new payment while a captured payment awaits its order")
		return nil, ErrPaidOrderPending
	case payment.StatusProcessing:
		return &PaymentResult{Outcome: OutcomeProcessing, Message: MessageProcessing, IntentID: previous.IntentID}, nil
	}
	return nil, nil
}

// HandleReturn processes the browser's return from a provider redirect.
// Each distinct return navigation is processed at most once; repeats get
// the stored result.
func (b *PaymentBridge) HandleReturn(ctx context.Context, sessionID, rawQuery string) (PaymentResult, error) {
	ctx, span := util.StartSessionSpan(ctx, "PaymentBridge.HandleReturn", sessionID)
	defer span.End()

	logger := util.SessionLogger(sessionID)

	values, err := url.ParseQuery(rawQuery)
	if err != nil || values.Get(ClientSecretParam) == "" {
		return PaymentResult{}, fieldError(ClientSecretParam, "is required")
	}
	secret := values.Get(ClientSecretParam)

	key := CallbackKey(sessionID, rawQuery)
	reservation, err := b.guard.Reserve(ctx, key, b.cfg.PendingGuardTTL)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to reserve payment callback: %w", err)
	}

	switch reservation.State {
	case storage.ReservationCompleted:
		var stored PaymentResult
		if err := json.Unmarshal(reservation.Result, &stored); err == nil {
			util.CallbackReplaysTotal.Inc()
			logger.Info("Serving repeated payment callback",
				zap.String("outcome", string(stored.Outcome)))
			return stored, nil
		}
		logger.Warn("Stored payment callback result is unreadable")
		return PaymentResult{Outcome: OutcomeProcessing, Message: MessageProcessing}, nil

	case storage.ReservationPending:
		util.CallbackReplaysTotal.Inc()
		return PaymentResult{Outcome: OutcomeProcessing, Message: MessageProcessing}, nil
	}

	result, final := b.resolveReturn(ctx, sessionID, secret)
	b.record(result)

	if !final {
		if err := b.guard.Release(ctx, key); err != nil {
			logger.Warn("Failed to release payment callback guard", zap.Error(err))
		}
		return result, nil
	}

	raw, err := json.Marshal(result)
	if err == nil {
		err = b.guard.Complete(ctx, key, raw, b.cfg.CallbackGuardTTL)
	}
	if err != nil {
		logger.Error("Failed to store payment callback result", zap.Error(err))
	}
	return result, nil
}

// resolveReturn reports whether the result is final. Non-final results
// release the guard so a reload can check again.
func (b *PaymentBridge) resolveReturn(ctx context.Context, sessionID, secret string) (PaymentResult, bool) {
	logger := util.SessionLogger(sessionID)

	intent, err := b.provider.RetrieveIntent(ctx, secret)
	if err != nil {
		logger.Error("Failed to retrieve payment intent", zap.Error(err))
		return PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry}, false
	}
	logger = logger.With(zap.String("intent_id", intent.ID))
	base := PaymentResult{IntentID: intent.ID}

	switch intent.Status {
	case payment.StatusSucceeded:
	case payment.StatusProcessing, payment.StatusRequiresAction, payment.StatusRequiresConfirmation:
		base.Outcome = OutcomeProcessing
		base.Message = MessageProcessing
		return base, false
	default:
		base.Outcome = OutcomeFailed
		base.Message = MessageRetry
		if intent.FailureMessage != "" {
			base.Message = intent.FailureMessage
		}
		return base, true
	}

	pending, err := b.pending.Load(ctx, sessionID)
	if err != nil {
		logger.Error("Failed to load pending order after payment", zap.Error(err))
		return PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry, IntentID: intent.ID}, false
	}

	if pending == nil || pending.IntentID != intent.ID || !b.amountMatches(pending, intent) {
		existing, err := b.orders.FindOrderByPaymentIntent(ctx, intent.ID)
		if err != nil {
			logger.Error("Failed to look up order for paid intent", zap.Error(err))
			return PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry, IntentID: intent.ID}, false
		}
		if existing != nil {
			base.Outcome = OutcomeSucceeded
			base.Order = existing
			return base, true
		}

		util.OrdersFailedTotal.WithLabelValues("unresolved").Inc()
		logger.Error("Paid intent has no matching pending order",
			zap.Bool("pending_present", pending != nil))
		base.Outcome = OutcomeUnresolved
		base.Message = MessageUnresolved
		return base, true
	}

	return b.finalize(ctx, sessionID, pending), true
}

// RetryOrder re-posts the retained pending order of a session whose
// payment succeeded but whose order was not recorded
func (b *PaymentBridge) RetryOrder(ctx context.Context, sessionID string) (PaymentResult, error) {
	ctx, span := util.StartSessionSpan(ctx, "PaymentBridge.RetryOrder", sessionID)
	defer span.End()

	pending, err := b.pending.Load(ctx, sessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if pending == nil {
		return PaymentResult{}, ErrPaymentPending
	}

	intent, err := b.provider.RetrieveIntent(ctx, pending.ClientSecret)
	if err != nil {
		util.SessionLogger(sessionID).Error("Failed to verify payment before retrying order",
			zap.String("intent_id", pending.IntentID),
			zap.Error(err))
		return b.record(PaymentResult{Outcome: OutcomeFailed, Message: MessageRetry, IntentID: pending.IntentID}), nil
	}
	if intent.Status != payment.StatusSucceeded {
		return PaymentResult{}, ErrPaymentPending
	}

	return b.record(b.finalize(ctx, sessionID, pending)), nil
}

// finalize posts the order and, only once it exists, runs the success
// side effects. The pending order is kept when the order fails.
func (b *PaymentBridge) finalize(ctx context.Context, sessionID string, pending *models.PendingOrder) PaymentResult {
	logger := util.SessionLogger(sessionID).With(zap.String("intent_id", pending.IntentID))
	result := PaymentResult{IntentID: pending.IntentID}

	order, err := b.orders.CreateOrder(ctx, pending)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("post_payment").Inc()
		logger.Error("Payment captured but order creation failed",
			zap.String("amount", pending.TotalAmount.String()),
			zap.Error(err))
		if err := b.pending.Retain(ctx, sessionID, pending); err != nil {
			logger.Error("Failed to retain pending order of captured payment", zap.Error(err))
		}
		result.Outcome = OutcomeOrderFailed
		result.Message = MessageOrderFailed
		return result
	}
	logger = logger.With(zap.Int64("order_id", order.ID))

	if pending.CouponID != nil && b.usage != nil {
		if err := b.usage.MarkCouponUsed(ctx, *pending.CouponID, order.ID); err != nil {
			logger.Warn("Failed to record coupon usage", zap.Error(err))
		}
	}

	if err := b.pending.Remove(ctx, sessionID); err != nil {
		logger.Warn("Failed to remove pending order", zap.Error(err))
	}

	b.carts.Dispatch(ctx, sessionID, cart.ClearCart())

	if _, err := b.flow.MarkSucceeded(ctx, sessionID, order.ID); err != nil {
		logger.Warn("Failed to mark checkout as succeeded", zap.Error(err))
	}

	logger.Info("Order placed for payment")
	result.Outcome = OutcomeSucceeded
	result.Order = order
	return result
}

func (b *PaymentBridge) record(result PaymentResult) PaymentResult {
	util.PaymentOutcomesTotal.WithLabelValues(string(result.Outcome)).Inc()
	return result
}

func (b *PaymentBridge) amountMatches(pending *models.PendingOrder, intent payment.Intent) bool {
	if intent.Amount == 0 {
		return true
	}
	return intent.Amount == payment.ToMinorUnits(pending.TotalAmount, pending.Currency, b.cfg.MinCharge)
}

func (b *PaymentBridge) pendingOrder(checkout CheckoutState, state models.CartState, amount decimal.Decimal, intent payment.Intent) *models.PendingOrder {
	flags := b.cfg.Features
	pending := &models.PendingOrder{
		UserID:       checkout.UserID,
		TotalAmount:  amount,
		CartItems:    state.Items,
		Subtotal:     state.Subtotal,
		TaxFee:       decimal.Zero,
		ShippingFee:  decimal.Zero,
		Discount:     decimal.Zero,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Currency:     b.cfg.Currency,
		CreatedAt:    b.now().UTC(),
	}
	if flags.EnableTaxPurchase {
		pending.TaxFee = state.TaxFee
	}
	if flags.EnableShippingByPriceZone {
		pending.ShippingFee = state.ShippingFee
	}
	if flags.EnableDiscountCoupons {
		pending.Discount = state.Discount
		if state.CouponID != nil {
			pending.CouponCode = state.CouponCode
			pending.CouponID = state.CouponID
		}
	}

	if checkout.IsGuest() {
		pending.GuestInfo = checkout.GuestInfo
		pending.GuestAddress = checkout.Address
	} else {
		pending.AddressID = checkout.AddressID
	}
	return pending
}

func billingDetails(checkout CheckoutState) payment.BillingDetails {
	var billing payment.BillingDetails
	if checkout.IsGuest() {
		if checkout.GuestInfo != nil {
			billing.Name = checkout.GuestInfo.Name
			billing.Email = checkout.GuestInfo.Email
			billing.Phone = checkout.GuestInfo.Phone
		}
		if a := checkout.Address; a != nil {
			billing.Line1 = a.Street
			billing.City = a.City
			billing.State = a.Province
			billing.PostalCode = a.PostalCode
			billing.Country = a.Country
			if billing.Phone == "" {
				billing.Phone = a.Phone
			}
		}
		return billing
	}

	billing.Name = checkout.Name
	billing.Email = checkout.Email
	if a := checkout.Selected; a != nil {
		if billing.Name == "" {
			billing.Name = a.FullName
		}
		billing.Phone = a.Phone
		billing.Line1 = a.Street
		billing.City = a.City
		billing.PostalCode = a.PostalCode
		billing.Country = a.Country
		if checkout.NewAddress && checkout.Address != nil {
			billing.State = checkout.Address.Province
		}
	}
	return billing
}

// PaymentStartKey is the one-shot key held while a session pays
func PaymentStartKey(sessionID string) string {
	return "payment_start:" + sessionID
}

// CallbackKey identifies one return navigation of a session
func CallbackKey(sessionID, rawQuery string) string {
	sum := sha256.Sum256([]byte(sessionID + "\n" + rawQuery))
	return "payment_callback:" + hex.EncodeToString(sum[:])
}
