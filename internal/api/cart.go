package api

import (
	"errors"
	"net/http"

	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) getCart(c *gin.Context) {
	state := h.carts.Get(c.Request.Context(), sessionFrom(c))
	c.JSON(http.StatusOK, h.cartResponse(state))
}

// addItem adds one unit of a product. Mixing item types answers 409 with
// the unchanged cart unless confirm_clear is set.
func (h *Handler) addItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	state, err := h.carts.AddItem(c.Request.Context(), sessionFrom(c), req)
	if errors.Is(err, service.ErrCartTypeConflict) {
		resp := h.cartResponse(state)
		resp.Error = err.Error()
		c.JSON(http.StatusConflict, resp)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.cartResponse(state))
}

func (h *Handler) updateItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	state := h.carts.UpdateQuantity(c.Request.Context(), sessionFrom(c), c.Param("id"), *req.Quantity)
	c.JSON(http.StatusOK, h.cartResponse(state))
}

func (h *Handler) removeItem(c *gin.Context) {
	state := h.carts.RemoveItem(c.Request.Context(), sessionFrom(c), c.Param("id"))
	c.JSON(http.StatusOK, h.cartResponse(state))
}

func (h *Handler) clearCart(c *gin.Context) {
	state := h.carts.Clear(c.Request.Context(), sessionFrom(c))
	c.JSON(http.StatusOK, h.cartResponse(state))
}

// applyCoupon always answers 200 once the code was evaluated; the outcome
// is in coupon.status
func (h *Handler) applyCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	state, result, err := h.carts.ApplyCoupon(c.Request.Context(), sessionFrom(c), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := h.cartResponse(state)
	resp.Coupon = &result
	c.JSON(http.StatusOK, resp)
}
