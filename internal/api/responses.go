package api

import (
	"errors"
	"net/http"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type cartResponse struct {
	Cart    models.CartState     `json:"cart"`
	Display map[string]string    `json:"display"`
	Coupon  *service.ApplyResult `json:"coupon,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (h *Handler) cartResponse(state models.CartState) cartResponse {
	currency := h.opts.Currency
	return cartResponse{
		Cart: state,
		Display: map[string]string{
			"subtotal":     util.FormatMoney(state.Subtotal, currency),
			"tax_fee":      util.FormatMoney(state.TaxFee, currency),
			"shipping_fee": util.FormatMoney(state.ShippingFee, currency),
			"discount":     util.FormatMoney(state.Discount, currency),
			"total":        util.FormatMoney(state.Total, currency),
			"payable":      util.FormatMoney(service.PayableAmount(state, h.opts.Features), currency),
		},
	}
}

var outcomeStatus = map[service.Outcome]int{
	service.OutcomeSucceeded:   http.StatusCreated,
	service.OutcomeRedirect:    http.StatusOK,
	service.OutcomeProcessing:  http.StatusAccepted,
	service.OutcomeDeclined:    http.StatusPaymentRequired,
	service.OutcomeFailed:      http.StatusBadGateway,
	service.OutcomeOrderFailed: http.StatusInternalServerError,
	service.OutcomeUnresolved:  http.StatusConflict,
}

func (h *Handler) respondPayment(c *gin.Context, result service.PaymentResult) {
	status, ok := outcomeStatus[result.Outcome]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

// respondError maps service errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "Validation failed",
			"fields": verr.Fields,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrCartTypeConflict),
		errors.Is(err, service.ErrStepMismatch),
		errors.Is(err, service.ErrNoPreviousStep),
		errors.Is(err, service.ErrPaymentPending),
		errors.Is(err, service.ErrPaidOrderPending):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidItemType):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrEmptyCart):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrCouponsDisabled):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrCheckoutNotOpen),
		errors.Is(err, service.ErrOrderNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		util.SessionLogger(sessionFrom(c)).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
