package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRepository persists orders. Lookups return nil, nil when no order
// matches.
type OrderRepository interface {
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// OrderEventPublisher announces placed orders
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// OrderService handles order business logic
type OrderService struct {
	store     OrderRepository
	publisher OrderEventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderRepository, publisher OrderEventPublisher) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateOrder records a paid pending order. The payment intent id is the
// idempotency key, so posting the same pending order twice yields one order.
func (s *OrderService) CreateOrder(ctx context.Context, pending *models.PendingOrder) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if pending == nil || pending.IntentID == "" {
		return nil, fmt.Errorf("pending order has no payment intent")
	}

	existing, err := s.store.GetOrderByIdempotencyKey(ctx, pending.IntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", pending.IntentID),
			zap.Int64("order_id", existing.ID))
		return existing, nil
	}

	if err := validatePendingOrder(pending); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order, items, err := buildOrder(pending)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_order").Inc()
		return nil, err
	}

	if err := s.store.CreateOrderWithItems(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("intent_id", order.PaymentIntentID),
		zap.String("total", order.TotalAmount.String()))

	s.publishOrderPlaced(ctx, order, items)
	return order, nil
}

// FindOrderByPaymentIntent returns the order paid by intentID, if any
func (s *OrderService) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	return s.store.GetOrderByIdempotencyKey(ctx, intentID)
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.publisher == nil {
		return
	}

	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			ItemType:  item.ItemType,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		UserID:          order.UserID,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		PaymentIntentID: order.PaymentIntentID,
		Items:           data,
	}
	if order.GuestEmail != nil {
		event.GuestEmail = *order.GuestEmail
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// hasCents reports whether amount fits the NUMERIC(12,2) order columns
func hasCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

func validatePendingOrder(pending *models.PendingOrder) error {
	if len(pending.CartItems) == 0 {
		return ErrEmptyCart
	}
	for _, item := range pending.CartItems {
		if item.Quantity <= 0 {
			return fmt.Errorf("item %s has invalid quantity %d", item.ID, item.Quantity)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("item %s has a negative price", item.ID)
		}
		if !hasCents(item.Price) {
			return fmt.Errorf("item %s has a price below cent precision", item.ID)
		}
		if !item.Type.Valid() {
			return fmt.Errorf("item %s: %w", item.ID, ErrInvalidItemType)
		}
	}

	if pending.UserID == nil {
		if pending.GuestInfo == nil || pending.GuestAddress == nil {
			return fmt.Errorf("guest order needs contact details and an address")
		}
	} else if pending.AddressID == nil {
		return fmt.Errorf("order needs a delivery address")
	}
	return nil
}

// buildOrder recomputes the subtotal from the line items and checks the
// charged total against it
func buildOrder(pending *models.PendingOrder) (*models.Order, []models.OrderItem, error) {
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(pending.CartItems))
	for _, item := range pending.CartItems {
		subtotal = subtotal.Add(item.LineTotal())
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			ItemType:  item.Type,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	if !subtotal.Equal(pending.Subtotal) {
		return nil, nil, fmt.Errorf("subtotal %s does not match line items %s", pending.Subtotal, subtotal)
	}

	total := subtotal.Add(pending.TaxFee).Add(pending.ShippingFee).Sub(pending.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	if !total.Equal(pending.TotalAmount) {
		return nil, nil, fmt.Errorf("total %s does not match computed total %s", pending.TotalAmount, total)
	}

	order := &models.Order{
		UserID:          pending.UserID,
		AddressID:       pending.AddressID,
		Subtotal:        subtotal,
		TaxFee:          pending.TaxFee,
		ShippingFee:     pending.ShippingFee,
		Discount:        pending.Discount,
		TotalAmount:     total,
		CouponID:        pending.CouponID,
		PaymentIntentID: pending.IntentID,
		Currency:        strings.ToLower(pending.Currency),
		Status:          models.OrderStatusPaid,
		IdempotencyKey:  pending.IntentID,
	}
	if pending.CouponCode != "" {
		code := pending.CouponCode
		order.CouponCode = &code
	}

	if pending.UserID == nil {
		name, email := pending.GuestInfo.Name, pending.GuestInfo.Email
		order.GuestName = &name
		order.GuestEmail = &email
		if pending.GuestInfo.Phone != "" {
			phone := pending.GuestInfo.Phone
			order.GuestPhone = &phone
		}

		raw, err := json.Marshal(pending.GuestAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode guest address: %w", err)
		}
		address := json.RawMessage(raw)
		order.GuestAddress = &address
	}

	return order, items, nil
}
