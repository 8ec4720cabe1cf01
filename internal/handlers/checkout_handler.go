package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// RegisterCheckoutRoutes registers the charge endpoint.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	cfg = cfg.withDefaults()

	r.POST("/checkout/charge", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CheckoutRequest
		if err := validation.BindJSON(c, &req); err != nil {
			// BindJSON already wrote a 400
			return
		}

		res, err := cfg.Initiator.Initiate(ctx, req)
		if err == nil {
			if !res.Dispatched {
				c.JSON(http.StatusAccepted, gin.H{"orderId": res.OrderID, "status": res.Status, "message": res.Message})
				return
			}
			c.JSON(http.StatusOK, gin.H{"orderId": res.OrderID})
			return
		}

		var ve *validation.ValidationError
		switch {
		case errors.As(err, &ve):
			validation.WriteValidationError(c, ve)
		case errors.Is(err, orders.ErrOrderExists):
			c.JSON(http.StatusConflict, gin.H{"error": "order_exists", "message": "this order has already been submitted"})
		case errors.Is(err, checkout.ErrConfiguration):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payments_unavailable", "message": "payments are temporarily unavailable, please try again later"})
		case errors.Is(err, checkout.ErrStoreWrite):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_not_recorded", "message": "we could not record your order and your card was not charged, please try again"})
		default:
			logging.FromContext(ctx, cfg.Logger).Error("charge failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "something went wrong, please try again"})
		}
	})
}
