package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced = "ORDER_PLACED"
	EventTypeCouponUsed  = "COUPON_USED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published once an order is recorded after payment
type OrderPlacedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	UserID          *int64          `json:"user_id,omitempty"`
	GuestEmail      string          `json:"guest_email,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Items           []OrderItemData `json:"items"`
}

// CouponUsedEvent published when an order consumed a coupon
type CouponUsedEvent struct {
	BaseEvent
	CouponID int64 `json:"coupon_id"`
	OrderID  int64 `json:"order_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	ItemType  ItemType        `json:"item_type"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
