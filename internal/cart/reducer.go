package cart

import (
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// ActionType names a cart mutation
type ActionType string

// Cart actions
const (
	ActionAddItem         ActionType = "ADD_ITEM"
	ActionRemoveItem      ActionType = "REMOVE_ITEM"
	ActionUpdateQuantity  ActionType = "UPDATE_QUANTITY"
	ActionSetTaxFee       ActionType = "SET_TAX_FEE"
	ActionSetShippingFee  ActionType = "SET_SHIPPING_FEE"
	ActionSetDiscount     ActionType = "SET_DISCOUNT"
	ActionSetCouponCode   ActionType = "SET_COUPON_CODE"
	ActionSetCouponStatus ActionType = "SET_COUPON_STATUS"
	ActionClearCart       ActionType = "CLEAR_CART"
)

// Action is a single cart mutation. Only the fields relevant to Type are read.
type Action struct {
	Type ActionType

	Item    models.CartItem
	AddedAt time.Time

	ItemID   string
	Quantity int

	Amount decimal.Decimal

	CouponCode   string
	CouponID     *int64
	CouponStatus models.CouponStatus
}

// AddItem adds one unit of product, merging on (product id, type)
func AddItem(product models.CartItem, at time.Time) Action {
	return Action{Type: ActionAddItem, Item: product, AddedAt: at}
}

// RemoveItem drops the line with the given id
func RemoveItem(itemID string) Action {
	return Action{Type: ActionRemoveItem, ItemID: itemID}
}

// UpdateQuantity sets a line quantity; zero or less removes the line
func UpdateQuantity(itemID string, quantity int) Action {
	return Action{Type: ActionUpdateQuantity, ItemID: itemID, Quantity: quantity}
}

// SetTaxFee overwrites the tax fee
func SetTaxFee(amount decimal.Decimal) Action {
	return Action{Type: ActionSetTaxFee, Amount: amount}
}

// SetShippingFee overwrites the shipping fee
func SetShippingFee(amount decimal.Decimal) Action {
	return Action{Type: ActionSetShippingFee, Amount: amount}
}

// SetDiscount overwrites the discount
func SetDiscount(amount decimal.Decimal) Action {
	return Action{Type: ActionSetDiscount, Amount: amount}
}

// SetCouponCode overwrites the coupon code and id; an empty code clears both
func SetCouponCode(code string, couponID *int64) Action {
	return Action{Type: ActionSetCouponCode, CouponCode: code, CouponID: couponID}
}

// SetCouponStatus overwrites the coupon status
func SetCouponStatus(status models.CouponStatus) Action {
	return Action{Type: ActionSetCouponStatus, CouponStatus: status}
}

// ClearCart resets items and coupon state together
func ClearCart() Action {
	return Action{Type: ActionClearCart}
}

// Empty returns the empty-cart shape
func Empty() models.CartState {
	return models.CartState{Items: []models.CartItem{}}
}

// ItemID builds the synthetic line id for a product added at the given time
func ItemID(productID int64, itemType models.ItemType, at time.Time) string {
	return fmt.Sprintf("%d-%s-%d", productID, itemType, at.UnixNano())
}

// Reduce applies action to state and returns the new state. It never
// mutates its input and recomputes derived totals exactly once.
func Reduce(state models.CartState, action Action) models.CartState {
	next := state
	next.Items = cloneItems(state.Items)

	switch action.Type {
	case ActionAddItem:
		next.Items = addItem(next.Items, action.Item, action.AddedAt)
		next.Revision++

	case ActionRemoveItem:
		next.Items = removeItem(next.Items, action.ItemID)
		next.Revision++

	case ActionUpdateQuantity:
		next.Items = updateQuantity(next.Items, action.ItemID, action.Quantity)
		next.Revision++

	case ActionSetTaxFee:
		next.TaxFee = action.Amount

	case ActionSetShippingFee:
		next.ShippingFee = action.Amount

	case ActionSetDiscount:
		next.Discount = action.Amount
		next.DiscountRevision = next.Revision

	case ActionSetCouponCode:
		next.CouponCode = action.CouponCode
		next.CouponID = cloneID(action.CouponID)
		if next.CouponCode == "" {
			next.CouponID = nil
		}

	case ActionSetCouponStatus:
		next.CouponStatus = action.CouponStatus

	case ActionClearCart:
		revision := state.Revision + 1
		next = Empty()
		next.Revision = revision
		next.DiscountRevision = revision

	default:
		return state
	}

	return recompute(next)
}

// ConflictsWith reports whether adding an item of itemType would mix types
func ConflictsWith(state models.CartState, itemType models.ItemType) bool {
	for _, item := range state.Items {
		if item.Type != itemType {
			return true
		}
	}
	return false
}

func recompute(state models.CartState) models.CartState {
	subtotal := decimal.Zero
	count := 0
	for _, item := range state.Items {
		subtotal = subtotal.Add(item.LineTotal())
		count += item.Quantity
	}

	state.Subtotal = subtotal
	state.ItemCount = count

	total := subtotal.Add(state.TaxFee).Add(state.ShippingFee).Sub(state.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	state.Total = total
	return state
}

func addItem(items []models.CartItem, product models.CartItem, at time.Time) []models.CartItem {
	for i := range items {
		if items[i].ProductID == product.ProductID && items[i].Type == product.Type {
			items[i].Quantity++
			return items
		}
	}

	product.ID = ItemID(product.ProductID, product.Type, at)
	product.Quantity = 1
	return append(items, product)
}

func removeItem(items []models.CartItem, itemID string) []models.CartItem {
	kept := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	return kept
}

func updateQuantity(items []models.CartItem, itemID string, quantity int) []models.CartItem {
	if quantity < 0 {
		quantity = 0
	}

	kept := items[:0]
	for _, item := range items {
		if item.ID == itemID {
			item.Quantity = quantity
		}
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	return kept
}

func cloneItems(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
