package notify

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// OrderReader reads an order; a nil order with a nil error means it does not exist.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// StoreSource reads statuses straight from the order store.
func StoreSource(r OrderReader) StatusSource {
	return StatusSourceFunc(func(ctx context.Context, orderID string) (StatusEvent, error) {
		o, err := r.Get(ctx, orderID)
		if err != nil {
			return StatusEvent{}, err
		}
		if o == nil {
			return StatusEvent{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
		}
		return EventFromOrder(o), nil
	})
}
