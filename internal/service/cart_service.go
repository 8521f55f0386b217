package service

import (
	"context"
	"strings"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService runs cart mutations and keeps fees and the discount in sync
// with the item list after each of them
type CartService struct {
	carts   *cart.Store
	fees    *FeeOrchestrator
	coupons *CouponService
	flags   models.FeatureFlags
	logger  *zap.Logger
	now     func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(carts *cart.Store, fees *FeeOrchestrator, coupons *CouponService, flags models.FeatureFlags) *CartService {
	return &CartService{
		carts:   carts,
		fees:    fees,
		coupons: coupons,
		flags:   flags,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// AddItemRequest is a product added to the cart
type AddItemRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	Name         string          `json:"name" validate:"required"`
	Description  string          `json:"description"`
	ImageURL     string          `json:"image_url"`
	Price        decimal.Decimal `json:"price"`
	Type         models.ItemType `json:"type" validate:"required"`
	ConfirmClear bool            `json:"confirm_clear"`
}

// Get returns the session cart with fees refreshed
func (s *CartService) Get(ctx context.Context, sessionID string) models.CartState {
	state := s.carts.Load(ctx, sessionID)
	if state.IsEmpty() {
		return state
	}
	return s.fees.Sync(ctx, sessionID)
}

// AddItem adds one unit of a product. Adding a type the cart does not hold
// yet requires ConfirmClear, which empties the cart first.
func (s *CartService) AddItem(ctx context.Context, sessionID string, req AddItemRequest) (models.CartState, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return s.carts.Load(ctx, sessionID), err
	}
	if !req.Type.Valid() {
		return s.carts.Load(ctx, sessionID), ErrInvalidItemType
	}
	if req.Price.IsNegative() {
		return s.carts.Load(ctx, sessionID), fieldError("price", "must not be negative")
	}
	if !hasCents(req.Price) {
		return s.carts.Load(ctx, sessionID), fieldError("price", "must have at most two decimal places")
	}

	state := s.carts.Load(ctx, sessionID)
	var actions []cart.Action
	if cart.ConflictsWith(state, req.Type) {
		if !req.ConfirmClear {
			return state, ErrCartTypeConflict
		}
		s.logger.Info("Clearing cart for item of another type",
			zap.String("session_id", sessionID),
			zap.String("type", string(req.Type)))
		actions = append(actions, cart.ClearCart())
	}

	actions = append(actions, cart.AddItem(models.CartItem{
		ProductID:   req.ProductID,
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
		Type:        req.Type,
	}, s.now()))

	s.carts.Dispatch(ctx, sessionID, actions...)
	return s.fees.Sync(ctx, sessionID), nil
}

// UpdateQuantity sets the quantity of a line; zero or less removes it
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) models.CartState {
	s.carts.Dispatch(ctx, sessionID, cart.UpdateQuantity(itemID, quantity))
	return s.fees.Sync(ctx, sessionID)
}

// RemoveItem drops a line from the cart
func (s *CartService) RemoveItem(ctx context.Context, sessionID, itemID string) models.CartState {
	s.carts.Dispatch(ctx, sessionID, cart.RemoveItem(itemID))
	return s.fees.Sync(ctx, sessionID)
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context, sessionID string) models.CartState {
	return s.carts.Dispatch(ctx, sessionID, cart.ClearCart())
}

// ApplyCoupon applies a user-entered coupon code
func (s *CartService) ApplyCoupon(ctx context.Context, sessionID, code string) (models.CartState, ApplyResult, error) {
	if !s.flags.EnableDiscountCoupons {
		return s.carts.Load(ctx, sessionID), ApplyResult{}, ErrCouponsDisabled
	}
	if strings.TrimSpace(code) == "" {
		return s.carts.Load(ctx, sessionID), ApplyResult{}, fieldError("code", "is required")
	}
	state, result := s.coupons.Apply(ctx, sessionID, code, ApplyOptions{})
	return state, result, nil
}

// Forget drops the session cart, e.g. on sign-out
func (s *CartService) Forget(ctx context.Context, sessionID string) {
	s.carts.Forget(ctx, sessionID)
}
