package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// statusReadTimeout bounds a coalesced store read, which outlives the request that started it.
const statusReadTimeout = 5 * time.Second

type statusResponse struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	TransactionID string    `json:"transactionId,omitempty"`
	AuthCode      string    `json:"authCode,omitempty"`
	ResponseText  string    `json:"responseText,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toStatusResponse(ev notify.StatusEvent) statusResponse {
	return statusResponse{
		OrderID:       ev.OrderID,
		Status:        string(ev.Status),
		Message:       notify.MessageFor(ev.Status),
		TransactionID: ev.TransactionID,
		AuthCode:      ev.AuthCode,
		ResponseText:  ev.ResponseText,
		UpdatedAt:     ev.At,
	}
}

// coalescingReader collapses concurrent reads of the same order into one store call.
// Nothing is cached: every read after the shared one completes goes to the store again.
type coalescingReader struct {
	orders notify.OrderReader
	group  singleflight.Group
}

func (r *coalescingReader) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	v, err, _ := r.group.Do(orderID, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusReadTimeout)
		defer cancel()
		return r.orders.Get(readCtx, orderID)
	})
	if err != nil {
		return nil, err
	}
	o, _ := v.(*orders.Order)
	return o, nil
}

// RegisterOrdersRoutes registers the status poll and event stream endpoints.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	cfg = cfg.withDefaults()
	reader := &coalescingReader{orders: cfg.Orders}

	writeStatus := func(c *gin.Context, orderID string) {
		ctx := c.Request.Context()
		c.Header("Cache-Control", "no-store")

		o, err := reader.Get(ctx, orderID)
		if err != nil {
			logging.FromContext(ctx, cfg.Logger).Error("status read failed", "order_id", orderID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status_unavailable", "message": "order status is temporarily unavailable"})
			return
		}
		if o == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, toStatusResponse(notify.EventFromOrder(o)))
	}

	r.GET("/orders/:id/status", func(c *gin.Context) {
		writeStatus(c, c.Param("id"))
	})

	r.POST("/checkout/status", func(c *gin.Context) {
		var body struct {
			OrderID string `json:"orderId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.OrderID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": "orderId", "message": "orderId is required"})
			return
		}
		writeStatus(c, strings.TrimSpace(body.OrderID))
	})

	r.GET("/orders/:id/events", func(c *gin.Context) {
		streamStatus(c, cfg, reader, c.Param("id"))
	})
}

// streamStatus sends the current status, then every change, as server-sent events. It ends on
// a terminal status, on timeout, or when the client goes away; the subscription is always released.
func streamStatus(c *gin.Context, cfg HandlerConfig, reader notify.OrderReader, orderID string) {
	ctx := c.Request.Context()
	logger := logging.FromContext(ctx, cfg.Logger).With("order_id", orderID)

	var events <-chan notify.StatusEvent
	if cfg.Subscriber != nil {
		sub, err := cfg.Subscriber.Subscribe(ctx, orderID)
		if err != nil {
			logger.Warn("subscribe failed, stream will poll", "error", err)
		} else {
			defer sub.Close()
			events = sub.Events()
		}
	}

	// a fresh read after subscribing, never joined with an older coalesced one
	o, err := cfg.Orders.Get(ctx, orderID)
	if err != nil {
		logger.Error("status read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_unavailable"})
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")

	last := o.Status
	emit := func(ev notify.StatusEvent) {
		c.SSEvent("status", toStatusResponse(ev))
		c.Writer.Flush()
	}
	emit(notify.EventFromOrder(o))
	if last.IsTerminal() {
		return
	}

	ticker := time.NewTicker(cfg.StreamInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(cfg.StreamTimeout)
	defer deadline.Stop()

	observe := func(ev notify.StatusEvent) bool {
		if ev.Status != last {
			last = ev.Status
			emit(ev)
		}
		return ev.Status.IsTerminal()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			emit(notify.StatusEvent{OrderID: orderID, Status: orders.StatusTimeout})
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if observe(ev) {
				return
			}
		case <-ticker.C:
			o, err := reader.Get(ctx, orderID)
			if err != nil || o == nil {
				logger.Debug("stream re-read failed", "error", err)
				continue
			}
			if observe(notify.EventFromOrder(o)) {
				return
			}
		}
	}
}
