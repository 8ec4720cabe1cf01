// Package checkout starts charges: it validates the browser's request, records the pending
// order and hands the authorization to the processor without waiting for its verdict.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

var (
	// ErrConfiguration means the processor credentials are incomplete. Nothing was written.
	ErrConfiguration = errors.New("payment processor is not configured")
	// ErrStoreWrite means the pending order could not be recorded, so no charge was sent.
	ErrStoreWrite = errors.New("order could not be recorded")
)

// MessageMayBeProcessing is returned when the authorization could not be confirmed as sent.
const MessageMayBeProcessing = "We could not confirm your payment was submitted. It may still be processing, so please check your order status before trying again."

// OrderCreator records new pending orders.
type OrderCreator interface {
	Create(ctx context.Context, order orders.Order, items []orders.LineItem) error
}

// Dispatcher sends an authorization without waiting for the processor's verdict.
type Dispatcher interface {
	Dispatch(ctx context.Context, r processor.AuthRequest) error
}

// Result is what the browser gets back. Dispatched is false when the processor could not be
// reached; the order then stays pending until the client gives up waiting.
type Result struct {
	OrderID    string
	Status     orders.Status
	Message    string
	Dispatched bool
}

// Initiator runs the charge flow.
type Initiator struct {
	validate   *validatorv10.Validate
	creds      processor.Credentials
	configured bool
	orders     OrderCreator
	dispatcher Dispatcher
	metrics    metrics.Recorder
	logger     *slog.Logger
	nowFunc    func() time.Time
}

func NewInitiator(cfg config.ProcessorConfig, store OrderCreator, d Dispatcher, rec metrics.Recorder, logger *slog.Logger) *Initiator {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Initiator{
		validate: validation.New(),
		creds: processor.Credentials{
			Account:        cfg.Account,
			RestrictKey:    cfg.RestrictKey,
			PostbackURL:    cfg.PostbackURL,
			PostbackSecret: cfg.PostbackSecret,
		},
		configured: cfg.Complete() && d != nil,
		orders:     store,
		dispatcher: d,
		metrics:    rec,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Initiate validates req, inserts the pending order and dispatches the authorization, in that
// order. The order row always exists before the processor can post back. Errors are
// *validation.ValidationError, ErrConfiguration, orders.ErrOrderExists or ErrStoreWrite.
func (i *Initiator) Initiate(ctx context.Context, req validation.CheckoutRequest) (Result, error) {
	logger := logging.FromContext(ctx, i.logger)

	c, err := validation.Validate(i.validate, req, i.nowFunc())
	if err != nil {
		var ve *validation.ValidationError
		if errors.As(err, &ve) {
			logger.Info("charge rejected", "field", ve.Field, "reason", ve.Message)
		}
		i.metrics.Count(ctx, metrics.ChargeRejected, metrics.Dimension{Name: "Reason", Value: "validation"})
		return Result{}, err
	}
	logger = logger.With("order_id", c.OrderID)

	if !i.configured {
		logger.Error("processor credentials are incomplete, refusing charge")
		i.metrics.Count(ctx, metrics.ChargeRejected, metrics.Dimension{Name: "Reason", Value: "configuration"})
		return Result{}, ErrConfiguration
	}

	if err := i.orders.Create(ctx, newOrder(c), newLineItems(c)); err != nil {
		if errors.Is(err, orders.ErrOrderExists) {
			logger.Warn("order id already used")
			return Result{}, err
		}
		logger.Error("order insert failed, charge not sent", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	authReq := processor.NewAuthRequest(i.creds, c)
	if err := i.dispatcher.Dispatch(ctx, authReq); err != nil {
		logger.Warn("authorization not confirmed sent, order left pending", "error", err, "card", c.Card)
		i.metrics.Count(ctx, metrics.ChargeDispatchFailed)
		return Result{
			OrderID: c.OrderID,
			Status:  orders.StatusPending,
			Message: MessageMayBeProcessing,
		}, nil
	}

	logger.Info("authorization dispatched", "amount", authReq.Total, "card", c.Card)
	i.metrics.Count(ctx, metrics.ChargeInitiated)
	return Result{OrderID: c.OrderID, Status: orders.StatusPending, Dispatched: true}, nil
}

func newOrder(c *validation.Checkout) orders.Order {
	return orders.Order{
		OrderID:   c.OrderID,
		Amount:    c.FormattedAmount(),
		Shipping:  toAddress(c.Shipping),
		Billing:   toAddress(c.Billing),
		CardLast4: c.Card.Last4(),
	}
}

func newLineItems(c *validation.Checkout) []orders.LineItem {
	if len(c.Items) == 0 {
		return nil
	}
	items := make([]orders.LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, orders.LineItem{
			SKU:      it.SKU,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    validation.FormatAmount(it.Price),
		})
	}
	return items
}

func toAddress(a validation.Address) orders.Address {
	return orders.Address{Address: a.Address, City: a.City, State: a.State, ZipCode: a.ZipCode}
}
