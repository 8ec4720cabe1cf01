package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/postback"
)

// maxPostbackBytes caps the processor callback body.
const maxPostbackBytes = 64 << 10

// RegisterPostbackRoutes registers the processor callback endpoint. Anything other than a 200
// makes the processor deliver again, so only authentication failures get a non-retryable 403.
func RegisterPostbackRoutes(r *gin.Engine, cfg HandlerConfig) {
	cfg = cfg.withDefaults()

	r.POST("/checkout/postback", func(c *gin.Context) {
		ctx := c.Request.Context()

		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPostbackBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logging.FromContext(ctx, cfg.Logger).Error("postback body over limit", "limit_bytes", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "payload too large"})
			return
		}
		if err != nil {
			logging.FromContext(ctx, cfg.Logger).Error("read postback body", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not read body"})
			return
		}

		ack, err := cfg.Ingestor.Ingest(ctx, raw, c.Request.Header)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, ack)
		case errors.Is(err, postback.ErrAuthentication):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
		case errors.Is(err, postback.ErrFormat):
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "unparseable payload"})
		case errors.Is(err, postback.ErrMissingFields):
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "postback not processed"})
		}
	})
}
