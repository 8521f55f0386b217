package api

import (
	"net/http"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

type paymentRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

type checkoutResponse struct {
	Checkout service.CheckoutState `json:"checkout"`
	Cart     cartResponse          `json:"cart"`
}

func (h *Handler) respondCheckout(c *gin.Context, state service.CheckoutState) {
	cart := h.carts.Get(c.Request.Context(), sessionFrom(c))
	c.JSON(http.StatusOK, checkoutResponse{
		Checkout: state,
		Cart:     h.cartResponse(cart),
	})
}

func (h *Handler) openCheckout(c *gin.Context) {
	state, err := h.flow.Open(c.Request.Context(), sessionFrom(c), customerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCheckout(c, state)
}

func (h *Handler) getCheckout(c *gin.Context) {
	state, err := h.flow.Get(c.Request.Context(), sessionFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCheckout(c, state)
}

func (h *Handler) listAddresses(c *gin.Context) {
	customer := customerFrom(c)
	if customer == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Sign in to use saved addresses",
		})
		return
	}

	addresses, err := h.flow.ListAddresses(c.Request.Context(), customer.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

func (h *Handler) submitGuestInfo(c *gin.Context) {
	var info models.GuestInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		badRequest(c, err)
		return
	}

	state, err := h.flow.SubmitGuestInfo(c.Request.Context(), sessionFrom(c), info)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCheckout(c, state)
}

func (h *Handler) submitAddress(c *gin.Context) {
	var sub service.AddressSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}

	state, err := h.flow.SubmitAddress(c.Request.Context(), sessionFrom(c), sub)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCheckout(c, state)
}

func (h *Handler) checkoutBack(c *gin.Context) {
	state, err := h.flow.Back(c.Request.Context(), sessionFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCheckout(c, state)
}

// startPayment refreshes fees so the intent is created for the current
// cart, then runs the payment
func (h *Handler) startPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	sessionID := sessionFrom(c)
	h.carts.Get(ctx, sessionID)

	result, err := h.payments.StartPayment(ctx, sessionID, req.PaymentMethodID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondPayment(c, result)
}

// paymentReturn handles the browser coming back from the provider. The raw
// query is forwarded untouched since it keys the one-shot guard.
func (h *Handler) paymentReturn(c *gin.Context) {
	result, err := h.payments.HandleReturn(c.Request.Context(), sessionFrom(c), c.Request.URL.RawQuery)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondPayment(c, result)
}

func (h *Handler) retryOrder(c *gin.Context) {
	result, err := h.payments.RetryOrder(c.Request.Context(), sessionFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondPayment(c, result)
}
