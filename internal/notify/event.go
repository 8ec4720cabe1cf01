// Package notify carries order status changes from the postback side to waiting clients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// StatusEvent is published whenever an order reaches a new status.
type StatusEvent struct {
	OrderID       string        `json:"orderId"`
	Status        orders.Status `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	AuthCode      string        `json:"authCode,omitempty"`
	ResponseText  string        `json:"responseText,omitempty"`
	At            time.Time     `json:"at"`
}

// EventFromOrder snapshots the client-visible part of an order.
func EventFromOrder(o *orders.Order) StatusEvent {
	return StatusEvent{
		OrderID:       o.OrderID,
		Status:        o.Status,
		TransactionID: o.TransactionID,
		AuthCode:      o.AuthCode,
		ResponseText:  o.ResponseText,
		At:            o.UpdatedAt,
	}
}

// DecodeEvent parses a JSON status event.
func DecodeEvent(body []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return StatusEvent{}, fmt.Errorf("decode status event: %w", err)
	}
	if ev.OrderID == "" || ev.Status == "" {
		return StatusEvent{}, errors.New("decode status event: orderId and status are required")
	}
	return ev, nil
}

// Publisher announces status events.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// Fanout publishes to every publisher, joining their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev StatusEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscription delivers the events of one order until closed.
type Subscription interface {
	Events() <-chan StatusEvent
	// Close releases the subscription. It is safe to call more than once.
	Close() error
}

// Subscriber opens subscriptions for an order id.
type Subscriber interface {
	Subscribe(ctx context.Context, orderID string) (Subscription, error)
}

// Channel is the pub/sub channel name for an order.
func Channel(orderID string) string {
	return "order-status:" + orderID
}
