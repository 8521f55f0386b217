package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/service"
	"storefront/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sessionA = "7d4f1c1e-3b7a-4d0e-9a51-0f3c2b6d8e01"
	sessionB = "0b9e2a44-51c8-4f7e-8d2a-6c1f0e9b3a72"
)

type stubFees struct{}

func (stubFees) GetActiveTaxRate(context.Context) (*models.TaxRate, error) {
	return &models.TaxRate{ID: 1, Rate: decimal.NewFromInt(10)}, nil
}

func (stubFees) GetActiveShippingTiers(context.Context) ([]models.ShippingTier, error) {
	return nil, nil
}

type stubCoupons map[string]*models.Coupon

func (s stubCoupons) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	return s[code], nil
}

type stubAddresses struct{}

func (stubAddresses) ListAddresses(context.Context, int64) ([]models.Address, error) {
	return []models.Address{{ID: 5, UserID: 42, Label: "Home", Street: "1 Main St"}}, nil
}

func (stubAddresses) CreateAddress(_ context.Context, address *models.Address) error {
	address.ID = 6
	return nil
}

func (stubAddresses) FindProvince(_ context.Context, name string) (*models.Province, error) {
	if strings.EqualFold(name, "ontario") {
		return &models.Province{ID: 7, Code: "ON", Name: "Ontario"}, nil
	}
	return nil, nil
}

type memoryOrders struct {
	mu        sync.Mutex
	orders    []*models.Order
	items     map[int64][]models.OrderItem
	createErr error
}

func (m *memoryOrders) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, nil
}

func (m *memoryOrders) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	order.ID = int64(len(m.orders) + 1)
	m.orders = append(m.orders, order)
	if m.items == nil {
		m.items = make(map[int64][]models.OrderItem)
	}
	m.items[order.ID] = items
	return nil
}

func (m *memoryOrders) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, nil
}

func (m *memoryOrders) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[orderID], nil
}

type nopUsage struct{}

func (nopUsage) MarkCouponUsed(context.Context, int64, int64) error { return nil }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router   *gin.Engine
	handler  *Handler
	provider *payment.FakeProvider
	orders   *memoryOrders
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	features := models.FeatureFlags{EnableTaxPurchase: true, EnableShippingByPriceZone: true, EnableDiscountCoupons: true}
	mem := storage.NewMemory()
	carts := cart.NewStore(mem, time.Hour)
	coupons := service.NewCouponService(carts, stubCoupons{
		"SAVE5": {ID: 1, Code: "SAVE5", DiscountType: models.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(5), Active: true},
	})
	cartService := service.NewCartService(carts, service.NewFeeOrchestrator(carts, stubFees{}, coupons), coupons, features)
	flow := service.NewCheckoutFlow(mem, carts, stubAddresses{}, time.Hour)
	orders := &memoryOrders{}
	orderService := service.NewOrderService(orders, nil)
	provider := payment.NewFakeProvider()
	bridge := service.NewPaymentBridge(provider, carts, flow, service.NewPendingOrders(mem, time.Hour), mem,
		orderService, nopUsage{}, service.PaymentConfig{
			Currency:         "cad",
			MinCharge:        50,
			ReturnURL:        "https://shop.local/checkout/return",
			CallbackGuardTTL: time.Hour,
			Features:         features,
		})

	handler := NewHandler(cartService, flow, bridge, orderService, Options{Currency: "cad", Features: features})
	router := gin.New()
	handler.SetupRoutes(router)

	return &testServer{router: router, handler: handler, provider: provider, orders: orders}
}

func (s *testServer) do(t *testing.T, method, path, sessionID string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func item(id int, price string, itemType models.ItemType) gin.H {
	return gin.H{"product_id": id, "name": "Widget", "price": price, "type": itemType}
}

// toPayment adds an item and walks a guest checkout to the payment step
func (s *testServer) toPayment(t *testing.T, sessionID string) {
	t.Helper()
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionID, item(1, "20.00", models.ItemTypeRetail)).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/checkout/open", sessionID, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/checkout/guest", sessionID,
		gin.H{"name": "Ada", "email": "ada@example.com"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/checkout/address", sessionID, gin.H{
		"address": gin.H{
			"full_name": "Ada Lovelace", "phone": "+1 555 0100", "street": "1 Main St", "city": "Toronto",
			"province": "Ontario", "postal_code": "M5V 1A1", "country": "CA",
		},
	}).Code)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)

	s.handler.AddReadinessCheck("postgres", failingPinger{})
	w := s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}

func TestSessionIssuedWhenMissing(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(SessionHeader))
	assert.Contains(t, w.Header().Get("Set-Cookie"), SessionCookie+"=")

	w = s.do(t, http.MethodGet, "/api/v1/cart", sessionA, nil)
	assert.Equal(t, sessionA, w.Header().Get(SessionHeader))
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestInvalidUserHeader(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/cart", sessionA, nil, UserIDHeader, "abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	display := body["display"].(map[string]interface{})
	assert.Equal(t, "$2.00", display["tax_fee"])
	assert.Equal(t, "$22.00", display["total"])

	cartBody := body["cart"].(map[string]interface{})
	itemID := cartBody["items"].([]interface{})[0].(map[string]interface{})["id"].(string)

	w = s.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, sessionA, gin.H{"quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["cart"].(map[string]interface{})["item_count"])

	w = s.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, sessionA, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/cart/items/"+itemID, sessionA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["cart"].(map[string]interface{})["items"])
}

func TestCartTypeConflict(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail)).Code)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(2, "5.00", models.ItemTypeOffer))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, decode(t, w)["cart"].(map[string]interface{})["items"], 1)

	confirmed := item(2, "5.00", models.ItemTypeOffer)
	confirmed["confirm_clear"] = true
	w = s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, confirmed)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["cart"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "offer", items[0].(map[string]interface{})["type"])
}

func TestAddItemValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, gin.H{"type": "retail"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "product_id")

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "1.00", "bulk"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestApplyCoupon(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail)).Code)

	w := s.do(t, http.MethodPost, "/api/v1/cart/coupon", sessionA, gin.H{"code": "SAVE5"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "valid", body["coupon"].(map[string]interface{})["status"])
	assert.Equal(t, "$17.00", body["display"].(map[string]interface{})["total"])

	w = s.do(t, http.MethodPost, "/api/v1/cart/coupon", sessionA, gin.H{"code": "NOPE"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "invalid", body["coupon"].(map[string]interface{})["status"])
	assert.Equal(t, "$22.00", body["display"].(map[string]interface{})["total"])
}

func TestCheckoutRequiresOpen(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/checkout", sessionA, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/checkout/open", sessionA, nil).Code)
}

func TestCheckoutGuestValidation(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail)).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/checkout/open", sessionA, nil).Code)

	w := s.do(t, http.MethodPost, "/api/v1/checkout/guest", sessionA, gin.H{"name": "Ada"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "email")

	w = s.do(t, http.MethodPost, "/api/v1/checkout/address", sessionA, gin.H{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignedInCheckout(t *testing.T) {
	s := newTestServer(t)
	user := []string{UserIDHeader, "42", UserEmailHeader, "ada@example.com"}

	w := s.do(t, http.MethodGet, "/api/v1/checkout/addresses", sessionA, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/checkout/addresses", sessionA, nil, user...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["addresses"], 1)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail), user...).Code)
	w = s.do(t, http.MethodPost, "/api/v1/checkout/open", sessionA, nil, user...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "address", decode(t, w)["checkout"].(map[string]interface{})["step"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout/address", sessionA, gin.H{"address_id": 5}, user...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payment", decode(t, w)["checkout"].(map[string]interface{})["step"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout/back", sessionA, nil, user...)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/checkout/back", sessionA, nil, user...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPaymentSucceeds(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t, sessionA)

	w := s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{"payment_method_id": payment.FakeMethodSucceed})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "succeeded", body["outcome"])
	order := body["order"].(map[string]interface{})
	total, err := decimal.NewFromString(order["total_amount"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(22)), "total %s", total)

	w = s.do(t, http.MethodGet, "/api/v1/cart", sessionA, nil)
	assert.Empty(t, decode(t, w)["cart"].(map[string]interface{})["items"])

	w = s.do(t, http.MethodGet, "/api/v1/orders/1", sessionA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "$22.00", decode(t, w)["display"].(map[string]interface{})["total"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/1", sessionB, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/99", sessionA, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders/abc", sessionA, nil).Code)
}

func TestPaymentDeclined(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t, sessionA)

	w := s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{"payment_method_id": payment.FakeMethodDecline})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "declined", decode(t, w)["outcome"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPaymentAfterOrderFailureMustRetryOrder(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t, sessionA)
	s.orders.createErr = errors.New("connection reset")

	w := s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{"payment_method_id": payment.FakeMethodSucceed})
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	assert.Equal(t, "order_failed", decode(t, w)["outcome"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{"payment_method_id": payment.FakeMethodSucceed})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, 1, s.provider.Confirmations)

	s.orders.createErr = nil
	w = s.do(t, http.MethodPost, "/api/v1/checkout/retry-order", sessionA, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "pi_fake_1", decode(t, w)["intent_id"])
}

func TestPaymentRedirectReturnIsOneShot(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t, sessionA)

	w := s.do(t, http.MethodPost, "/api/v1/checkout/payment", sessionA, gin.H{"payment_method_id": payment.FakeMethodRedirect})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "redirect", body["outcome"])
	assert.NotEmpty(t, body["redirect_url"])

	s.provider.CompleteRedirect(body["intent_id"].(string), payment.StatusSucceeded)

	query := url.Values{service.ClientSecretParam: {body["client_secret"].(string)}}.Encode()
	first := s.do(t, http.MethodGet, "/api/v1/checkout/return?"+query, sessionA, nil)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(t, http.MethodGet, "/api/v1/checkout/return?"+query, sessionA, nil)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, s.orders.orders, 1)

	w = s.do(t, http.MethodGet, "/api/v1/checkout", sessionA, nil)
	assert.Equal(t, "success", decode(t, w)["checkout"].(map[string]interface{})["step"])
}

func TestPaymentReturnWithoutSecret(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/checkout/return", sessionA, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRetryOrderWithoutPendingPayment(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/checkout/retry-order", sessionA, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEndSessionDropsCart(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", sessionA, item(1, "20.00", models.ItemTypeRetail)).Code)

	w := s.do(t, http.MethodDelete, "/api/v1/session", sessionA, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart", sessionA, nil)
	assert.Empty(t, decode(t, w)["cart"].(map[string]interface{})["items"])
}
