package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface
type Options struct {
	Currency     string
	Features     models.FeatureFlags
	SecureCookie bool
}

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	flow     *service.CheckoutFlow
	payments *service.PaymentBridge
	orders   *service.OrderService
	opts     Options
	deps     map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	flow *service.CheckoutFlow,
	payments *service.PaymentBridge,
	orders *service.OrderService,
	opts Options,
) *Handler {
	return &Handler{
		carts:    carts,
		flow:     flow,
		payments: payments,
		orders:   orders,
		opts:     opts,
		deps:     make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, dep Pinger) {
	h.deps[name] = dep
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(sessionMiddleware(h.opts.SecureCookie), customerMiddleware())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addItem)
		v1.PATCH("/cart/items/:id", h.updateItem)
		v1.DELETE("/cart/items/:id", h.removeItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/coupon", h.applyCoupon)

		v1.POST("/checkout/open", h.openCheckout)
		v1.GET("/checkout", h.getCheckout)
		v1.GET("/checkout/addresses", h.listAddresses)
		v1.POST("/checkout/guest", h.submitGuestInfo)
		v1.POST("/checkout/address", h.submitAddress)
		v1.POST("/checkout/back", h.checkoutBack)
		v1.POST("/checkout/payment", h.startPayment)
		v1.GET("/checkout/return", h.paymentReturn)
		v1.POST("/checkout/retry-order", h.retryOrder)

		v1.GET("/orders/:id", h.getOrder)

		v1.DELETE("/session", h.endSession)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getOrder returns an order placed by the caller, either as the signed-in
// owner or from the current session's checkout
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !h.canView(c, order) {
		h.respondError(c, service.ErrOrderNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
		"display": gin.H{
			"total": util.FormatMoney(order.TotalAmount, order.Currency),
		},
	})
}

// endSession tears down the session cart on sign-out
func (h *Handler) endSession(c *gin.Context) {
	h.carts.Forget(c.Request.Context(), sessionFrom(c))
	c.SetCookie(SessionCookie, "", -1, "/", "", h.opts.SecureCookie, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) canView(c *gin.Context, order *models.Order) bool {
	if customer := customerFrom(c); customer != nil && order.UserID != nil && *order.UserID == customer.UserID {
		return true
	}
	checkout, err := h.flow.Get(c.Request.Context(), sessionFrom(c))
	return err == nil && checkout.OrderID != nil && *checkout.OrderID == order.ID
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
