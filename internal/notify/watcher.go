package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// Client-facing messages. The timeout message must never claim the charge failed.
const (
	MessagePaid       = "Payment received. Thank you for your order."
	MessageDeclined   = "Your payment was declined. Please check your card details and try again."
	MessageProcessing = "Your payment is still being processed. Please try again in a few moments."
	MessageTimeout    = "We have not received confirmation of your payment yet. It may still be processing, so please check your email for a receipt or contact support before trying again."
)

// MessageFor returns the client message for an order status.
func MessageFor(s orders.Status) string {
	switch s {
	case orders.StatusPaid:
		return MessagePaid
	case orders.StatusFailed, orders.StatusDeclined:
		return MessageDeclined
	case orders.StatusTimeout:
		return MessageTimeout
	default:
		return MessageProcessing
	}
}

// Outcome is how a watch ended.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeDeclined Outcome = "declined"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

// Result is the final state of a watch. Dwell is how long the client should keep the
// message on screen before moving on.
type Result struct {
	Outcome       Outcome
	Status        orders.Status
	OrderID       string
	TransactionID string
	AuthCode      string
	ResponseText  string
	Message       string
	Dwell         time.Duration
}

// StatusSource reads the current status of an order.
type StatusSource interface {
	Status(ctx context.Context, orderID string) (StatusEvent, error)
}

// StatusSourceFunc adapts a function to StatusSource.
type StatusSourceFunc func(ctx context.Context, orderID string) (StatusEvent, error)

func (f StatusSourceFunc) Status(ctx context.Context, orderID string) (StatusEvent, error) {
	return f(ctx, orderID)
}

// WatchConfig holds the Watcher timings.
type WatchConfig struct {
	GraceDelay time.Duration // before the first poll
	Interval   time.Duration
	Timeout    time.Duration
	Dwell      time.Duration
}

// DefaultWatchConfig matches the checkout page: first poll after 5s, then every 5s, give up after 2 minutes.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		GraceDelay: 5 * time.Second,
		Interval:   5 * time.Second,
		Timeout:    2 * time.Minute,
		Dwell:      5 * time.Second,
	}
}

// Watcher waits for an order to reach a terminal status. OnStatus, when set, is called on the
// watching goroutine for every observed status change and never after Poll or Push return.
type Watcher struct {
	cfg      WatchConfig
	logger   *slog.Logger
	OnStatus func(StatusEvent)
}

func NewWatcher(cfg WatchConfig, logger *slog.Logger) *Watcher {
	return &Watcher{cfg: cfg, logger: logger}
}

type watch struct {
	*Watcher
	orderID string
	last    orders.Status
}

// Poll reads the order status after the grace delay and then on every interval.
func (w *Watcher) Poll(ctx context.Context, orderID string, src StatusSource) Result {
	st := &watch{Watcher: w, orderID: orderID}

	deadline := time.NewTimer(w.cfg.Timeout)
	defer deadline.Stop()
	grace := time.NewTimer(w.cfg.GraceDelay)
	defer grace.Stop()

	select {
	case <-ctx.Done():
		return st.canceled()
	case <-deadline.C:
		return st.timedOut()
	case <-grace.C:
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if res, done := st.check(ctx, src); done {
			return res
		}
		select {
		case <-ctx.Done():
			return st.canceled()
		case <-deadline.C:
			return st.timedOut()
		case <-ticker.C:
		}
	}
}

// Push waits for pushed events, re-reading src on every interval in case an event was
// missed. If the subscription cannot be opened it falls back to Poll.
func (w *Watcher) Push(ctx context.Context, orderID string, sub Subscriber, src StatusSource) Result {
	s, err := sub.Subscribe(ctx, orderID)
	if err != nil {
		w.logger.Warn("subscribe failed, falling back to polling", "order_id", orderID, "error", err)
		return w.Poll(ctx, orderID, src)
	}
	defer s.Close()

	st := &watch{Watcher: w, orderID: orderID}
	deadline := time.NewTimer(w.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// the order may have resolved before the subscription was confirmed
	if res, done := st.check(ctx, src); done {
		return res
	}

	events := s.Events()
	for {
		select {
		case <-ctx.Done():
			return st.canceled()
		case <-deadline.C:
			return st.timedOut()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if res, done := st.observe(ev); done {
				return res
			}
		case <-ticker.C:
			if res, done := st.check(ctx, src); done {
				return res
			}
		}
	}
}

func (st *watch) check(ctx context.Context, src StatusSource) (Result, bool) {
	if src == nil {
		return Result{}, false
	}
	ev, err := src.Status(ctx, st.orderID)
	if err != nil {
		st.logger.Debug("status read failed", "order_id", st.orderID, "error", err)
		return Result{}, false
	}
	return st.observe(ev)
}

func (st *watch) observe(ev StatusEvent) (Result, bool) {
	if ev.Status != st.last {
		st.last = ev.Status
		if st.OnStatus != nil {
			st.OnStatus(ev)
		}
	}
	if !ev.Status.IsTerminal() {
		return Result{}, false
	}
	outcome := OutcomeDeclined
	if ev.Status == orders.StatusPaid {
		outcome = OutcomePaid
	}
	return Result{
		Outcome:       outcome,
		Status:        ev.Status,
		OrderID:       st.orderID,
		TransactionID: ev.TransactionID,
		AuthCode:      ev.AuthCode,
		ResponseText:  ev.ResponseText,
		Message:       MessageFor(ev.Status),
		Dwell:         st.cfg.Dwell,
	}, true
}

func (st *watch) timedOut() Result {
	return Result{
		Outcome: OutcomeTimeout,
		Status:  orders.StatusTimeout,
		OrderID: st.orderID,
		Message: MessageTimeout,
		Dwell:   st.cfg.Dwell,
	}
}

func (st *watch) canceled() Result {
	status := st.last
	if status == "" {
		status = orders.StatusPending
	}
	return Result{
		Outcome: OutcomeCanceled,
		Status:  status,
		OrderID: st.orderID,
		Message: MessageFor(status),
	}
}
