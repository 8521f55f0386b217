package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType is the pricing channel a cart line belongs to
type ItemType string

// Item types
const (
	ItemTypeRetail    ItemType = "retail"
	ItemTypeWholesale ItemType = "wholesale"
	ItemTypeOffer     ItemType = "offer"
)

// Valid reports whether t is a known item type
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeRetail, ItemTypeWholesale, ItemTypeOffer:
		return true
	}
	return false
}

// CouponStatus records the outcome of the last coupon application.
// The zero value means no status has been recorded yet.
type CouponStatus string

// Coupon statuses
const (
	CouponStatusNone         CouponStatus = ""
	CouponStatusValid        CouponStatus = "valid"
	CouponStatusInvalid      CouponStatus = "invalid"
	CouponStatusMinCartValue CouponStatus = "min_cart_value"
)

// CartItem represents a single line in a cart
type CartItem struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Type        ItemType        `json:"type"`
	Quantity    int             `json:"quantity"`
}

// LineTotal returns price times quantity
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartState is the full cart snapshot, derived totals included
type CartState struct {
	Items        []CartItem      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxFee       decimal.Decimal `json:"tax_fee"`
	ShippingFee  decimal.Decimal `json:"shipping_fee"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	ItemCount    int             `json:"item_count"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	CouponID     *int64          `json:"coupon_id,omitempty"`
	CouponStatus CouponStatus    `json:"coupon_status,omitempty"`

	// Revision increments on every item-list change.
	Revision int64 `json:"revision"`
	// DiscountRevision is the Revision the current discount was computed for.
	DiscountRevision int64 `json:"discount_revision"`
}

// IsEmpty reports whether the cart has no items
func (s CartState) IsEmpty() bool {
	return len(s.Items) == 0
}

// DiscountType is how a coupon value is applied
type DiscountType string

// Discount types
const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Coupon represents a discount rule
type Coupon struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	MinCartValue  decimal.Decimal `db:"min_cart_value" json:"min_cart_value"`
	Active        bool            `db:"active" json:"active"`
	UsageCount    int             `db:"usage_count" json:"usage_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// TaxRate is the active purchase tax, in percentage points
type TaxRate struct {
	ID     int64           `db:"id" json:"id"`
	Name   string          `db:"name" json:"name"`
	Rate   decimal.Decimal `db:"rate" json:"rate"`
	Active bool            `db:"active" json:"active"`
}

// ShippingTier maps a subtotal range to a shipping percentage
type ShippingTier struct {
	ID             int64               `db:"id" json:"id"`
	MinPrice       decimal.Decimal     `db:"min_price" json:"min_price"`
	MaxPrice       decimal.NullDecimal `db:"max_price" json:"max_price"`
	PercentageRate decimal.Decimal     `db:"percentage_rate" json:"percentage_rate"`
}

// Matches reports whether subtotal falls inside the tier
func (t ShippingTier) Matches(subtotal decimal.Decimal) bool {
	if subtotal.LessThan(t.MinPrice) {
		return false
	}
	return !t.MaxPrice.Valid || subtotal.LessThanOrEqual(t.MaxPrice.Decimal)
}

// Province is a known shipping province
type Province struct {
	ID   int64  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Address is a saved address of an authenticated user
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Label      string    `db:"label" json:"label"`
	FullName   string    `db:"full_name" json:"full_name"`
	Phone      string    `db:"phone" json:"phone"`
	Street     string    `db:"street" json:"street"`
	City       string    `db:"city" json:"city"`
	ProvinceID int64     `db:"province_id" json:"province_id"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AddressInput is an address as entered during checkout
type AddressInput struct {
	Label      string `json:"label"`
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province" validate:"required"`
	ProvinceID int64  `json:"province_id,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

// GuestInfo is the contact info of an anonymous customer
type GuestInfo struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required"`
	Phone string `json:"phone,omitempty"`
}

// Customer identifies the signed-in user as forwarded by the gateway
type Customer struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// PendingOrder is the snapshot written before control is handed to the
// payment provider. Its presence means a payment was initiated but the
// order is not yet recorded.
type PendingOrder struct {
	UserID       *int64          `json:"user_id,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AddressID    *int64          `json:"address_id,omitempty"`
	CartItems    []CartItem      `json:"cart_items"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	CouponID     *int64          `json:"coupon_id,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxFee       decimal.Decimal `json:"tax_fee"`
	ShippingFee  decimal.Decimal `json:"shipping_fee"`
	Discount     decimal.Decimal `json:"discount"`
	GuestInfo    *GuestInfo      `json:"guest_info,omitempty"`
	GuestAddress *AddressInput   `json:"guest_address,omitempty"`
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	Currency     string          `json:"currency"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Order represents a placed order
type Order struct {
	ID              int64            `db:"id" json:"id"`
	UserID          *int64           `db:"user_id" json:"user_id,omitempty"`
	GuestName       *string          `db:"guest_name" json:"guest_name,omitempty"`
	GuestEmail      *string          `db:"guest_email" json:"guest_email,omitempty"`
	GuestPhone      *string          `db:"guest_phone" json:"guest_phone,omitempty"`
	AddressID       *int64           `db:"address_id" json:"address_id,omitempty"`
	GuestAddress    *json.RawMessage `db:"guest_address" json:"guest_address,omitempty"`
	Subtotal        decimal.Decimal  `db:"subtotal" json:"subtotal"`
	TaxFee          decimal.Decimal  `db:"tax_fee" json:"tax_fee"`
	ShippingFee     decimal.Decimal  `db:"shipping_fee" json:"shipping_fee"`
	Discount        decimal.Decimal  `db:"discount" json:"discount"`
	TotalAmount     decimal.Decimal  `db:"total_amount" json:"total_amount"`
	CouponCode      *string          `db:"coupon_code" json:"coupon_code,omitempty"`
	CouponID        *int64           `db:"coupon_id" json:"coupon_id,omitempty"`
	PaymentIntentID string           `db:"payment_intent_id" json:"payment_intent_id"`
	Currency        string           `db:"currency" json:"currency"`
	Status          string           `db:"status" json:"status"`
	IdempotencyKey  string           `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	ItemType  ItemType        `db:"item_type" json:"item_type"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Order statuses
const (
	OrderStatusPaid      = "PAID"
	OrderStatusFulfilled = "FULFILLED"
	OrderStatusCancelled = "CANCELLED"
)

// CheckoutStep is a step of the checkout flow
type CheckoutStep string

// Checkout steps
const (
	StepGuestInfo CheckoutStep = "guest_info"
	StepAddress   CheckoutStep = "address"
	StepPayment   CheckoutStep = "payment"
	StepSuccess   CheckoutStep = "success"
)

// FeatureFlags gate which fees and discounts are charged
type FeatureFlags struct {
	EnableTaxPurchase         bool `json:"enable_tax_purchase"`
	EnableShippingByPriceZone bool `json:"enable_shipping_by_price_zone"`
	EnableDiscountCoupons     bool `json:"enable_discount_coupons"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
