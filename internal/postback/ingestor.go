package postback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/paymentlog"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// OrderStore is the part of the order store the ingestor needs.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Resolve(ctx context.Context, r orders.Resolution) (orders.ResolveResult, error)
}

// PaymentLog records every postback received.
type PaymentLog interface {
	Append(ctx context.Context, e paymentlog.Entry) (bool, error)
	Get(ctx context.Context, entryID string) (*paymentlog.Entry, error)
	MarkResult(ctx context.Context, entryID, result, note string) error
}

// Ack is returned to the processor.
type Ack struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId,omitempty"`
	AuthCode      string `json:"authCode,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	ReducedTrust  bool   `json:"reducedTrust,omitempty"`
}

// Config controls postback authentication.
type Config struct {
	Secret      string
	RelaxedAuth bool
}

// Ingestor parses, authenticates and applies postbacks.
type Ingestor struct {
	parsers Chain
	auth    Authenticator
	secret  string
	orders  OrderStore
	log     PaymentLog
	events  notify.Publisher
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewIngestor wires an Ingestor. log and events may be nil.
func NewIngestor(cfg Config, store OrderStore, log PaymentLog, events notify.Publisher, rec metrics.Recorder, logger *slog.Logger) *Ingestor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Ingestor{
		parsers: DefaultChain(),
		auth:    NewAuthenticator(cfg.Secret, cfg.RelaxedAuth),
		secret:  cfg.Secret,
		orders:  store,
		log:     log,
		events:  events,
		metrics: rec,
		logger:  logger,
	}
}

// Ingest handles one postback delivery. Re-delivering a postback for an order that is already
// terminal changes nothing and still acknowledges success. Errors other than authentication
// failures ask the processor to deliver again.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, headers http.Header) (Ack, error) {
	entryID := paymentlog.EntryID(raw)
	logger := logging.FromContext(ctx, i.logger).With(
		"postback_entry", entryID[:12],
		"content_type", headers.Get("Content-Type"),
	)

	fields, format, err := i.parsers.Parse(raw)
	if err != nil {
		payload := i.scrub(raw, "")
		logger.Error("postback rejected: unparseable payload", "error", err, "payload", payload)
		i.metrics.Count(ctx, metrics.PostbackRejected, metrics.Dimension{Name: "Reason", Value: "format"})
		i.record(ctx, logger, paymentlog.Entry{EntryID: entryID, Payload: payload, Result: paymentlog.ResultRejected, Note: "unparseable payload"})
		return Ack{}, err
	}

	n := notificationFrom(fields)
	payload := i.scrub(raw, n.Secret)
	entry := paymentlog.Entry{
		EntryID:       entryID,
		OrderID:       n.OrderID,
		TransactionID: n.TransactionID,
		Outcome:       n.Outcome.String(),
		Format:        string(format),
		Payload:       payload,
	}
	logger = logger.With("order_id", n.OrderID, "transaction_id", n.TransactionID, "format", string(format))

	reduced, err := i.auth.Check(n)
	if err != nil {
		logger.Warn("postback rejected: authentication failed", "error", err, "security_event", true)
		i.metrics.Count(ctx, metrics.PostbackRejected, metrics.Dimension{Name: "Reason", Value: "auth"})
		entry.Result, entry.Note = paymentlog.ResultRejected, err.Error()
		i.record(ctx, logger, entry)
		return Ack{}, err
	}
	entry.ReducedTrust = reduced
	if reduced {
		logger.Warn("postback accepted without a verified restrict key", "reduced_trust", true)
	}

	if missing := n.missing(); len(missing) > 0 {
		err := &MissingFieldsError{Fields: missing}
		logger.Error("postback rejected", "error", err)
		i.metrics.Count(ctx, metrics.PostbackRejected, metrics.Dimension{Name: "Reason", Value: "missing_fields"})
		entry.Result, entry.Note = paymentlog.ResultRejected, err.Error()
		i.record(ctx, logger, entry)
		return Ack{}, err
	}

	if !n.KnownOutcome {
		logger.Warn("unknown outcome code, treating as indeterminate", "code", n.OutcomeCode)
	}
	i.record(ctx, logger, entry)

	status, terminal := n.Outcome.OrderStatus()
	if !terminal {
		return i.leavePending(ctx, logger, n, entryID, reduced)
	}

	res, err := i.orders.Resolve(ctx, orders.Resolution{
		OrderID:       n.OrderID,
		TransactionID: n.TransactionID,
		Status:        status,
		AuthCode:      n.AuthCode,
		ResponseText:  n.ResponseText,
		AVSResult:     n.AVSResult,
		CVVResult:     n.CVVResult,
		RawPayload:    payload,
	})
	switch {
	case errors.Is(err, orders.ErrTransactionConflict):
		logger.Error("transaction id is bound to a different order", "security_event", true)
		i.metrics.Count(ctx, metrics.PostbackRejected, metrics.Dimension{Name: "Reason", Value: "transaction_conflict"})
		i.mark(ctx, logger, entryID, paymentlog.ResultRejected, err.Error())
		return Ack{
			Success:       false,
			Message:       "transaction id already belongs to another order",
			TransactionID: n.TransactionID,
			OrderID:       n.OrderID,
			ReducedTrust:  reduced,
		}, nil
	case err != nil:
		logger.Error("postback could not be applied", "error", err)
		i.metrics.Count(ctx, metrics.PostbackError)
		i.mark(ctx, logger, entryID, paymentlog.ResultError, err.Error())
		return Ack{}, fmt.Errorf("resolve order %s: %w", n.OrderID, err)
	}

	if res.Applied {
		logger.Info("postback applied", "status", string(status), "outcome", n.Outcome.String())
		i.metrics.Count(ctx, metrics.PostbackApplied, metrics.Dimension{Name: "Status", Value: string(status)})
		i.publish(ctx, logger, notify.EventFromOrder(res.Order))
		i.mark(ctx, logger, entryID, paymentlog.ResultApplied, "")
	} else {
		if res.Order.TransactionID != n.TransactionID || res.Order.Status != status {
			logger.Warn("ignoring postback for an order that is already resolved",
				"stored_status", string(res.Order.Status), "stored_transaction_id", res.Order.TransactionID)
		} else {
			logger.Info("duplicate postback acknowledged", "status", string(res.Order.Status))
		}
		i.metrics.Count(ctx, metrics.PostbackDuplicate)
		i.mark(ctx, logger, entryID, paymentlog.ResultDuplicate, "order already "+string(res.Order.Status))
	}

	ack := ackFor(res.Order)
	ack.Duplicate = !res.Applied
	ack.ReducedTrust = reduced
	return ack, nil
}

// leavePending acknowledges an indeterminate outcome without touching the order, so a later
// postback can still resolve it.
func (i *Ingestor) leavePending(ctx context.Context, logger *slog.Logger, n Notification, entryID string, reduced bool) (Ack, error) {
	o, err := i.orders.Get(ctx, n.OrderID)
	if err != nil {
		logger.Error("order lookup failed", "error", err)
		i.metrics.Count(ctx, metrics.PostbackError)
		i.mark(ctx, logger, entryID, paymentlog.ResultError, err.Error())
		return Ack{}, fmt.Errorf("get order %s: %w", n.OrderID, err)
	}
	if o == nil {
		logger.Error("postback for unknown order")
		i.metrics.Count(ctx, metrics.PostbackError)
		i.mark(ctx, logger, entryID, paymentlog.ResultError, "order not found")
		return Ack{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, n.OrderID)
	}

	logger.Info("indeterminate outcome, order left unchanged", "status", string(o.Status), "response_text", n.ResponseText)
	i.metrics.Count(ctx, metrics.PostbackIndeterminate)
	i.mark(ctx, logger, entryID, paymentlog.ResultPending, n.ResponseText)

	ack := ackFor(o)
	if !o.Status.IsTerminal() {
		ack.TransactionID = n.TransactionID
		ack.AuthCode = n.AuthCode
		ack.Message = ackMessage(o.Status, n.ResponseText)
	}
	ack.ReducedTrust = reduced
	return ack, nil
}

func ackFor(o *orders.Order) Ack {
	return Ack{
		Success:       true,
		Status:        string(o.Status),
		Message:       ackMessage(o.Status, o.ResponseText),
		TransactionID: o.TransactionID,
		AuthCode:      o.AuthCode,
		OrderID:       o.OrderID,
	}
}

func ackMessage(s orders.Status, responseText string) string {
	switch s {
	case orders.StatusPaid:
		return "payment approved"
	case orders.StatusFailed, orders.StatusDeclined:
		if responseText != "" {
			return "payment declined: " + responseText
		}
		return "payment declined"
	default:
		if responseText != "" {
			return "outcome indeterminate, order left pending: " + responseText
		}
		return "outcome indeterminate, order left pending"
	}
}

// scrub masks card data and restrict keys before a payload is logged or stored.
func (i *Ingestor) scrub(raw []byte, presented string) string {
	s := validation.Redact(string(raw))
	for _, secret := range []string{i.secret, presented} {
		if len(secret) >= 4 {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}

func (i *Ingestor) record(ctx context.Context, logger *slog.Logger, e paymentlog.Entry) {
	if i.log == nil {
		return
	}
	created, err := i.log.Append(ctx, e)
	if err != nil {
		logger.Warn("payment log append failed", "error", err)
		return
	}
	if created {
		return
	}
	prior, err := i.log.Get(ctx, e.EntryID)
	if err != nil || prior == nil {
		logger.Info("exact redelivery of a logged postback")
		return
	}
	logger.Info("exact redelivery of a logged postback", "prior_result", prior.Result, "first_received_at", prior.ReceivedAt)
}

func (i *Ingestor) mark(ctx context.Context, logger *slog.Logger, entryID, result, note string) {
	if i.log == nil {
		return
	}
	err := i.log.MarkResult(ctx, entryID, result, note)
	switch {
	case errors.Is(err, paymentlog.ErrApplied):
		logger.Debug("payment log keeps the applying delivery", "result", result)
	case err != nil:
		logger.Warn("payment log update failed", "result", result, "error", err)
	}
}

func (i *Ingestor) publish(ctx context.Context, logger *slog.Logger, ev notify.StatusEvent) {
	if i.events == nil {
		return
	}
	if err := i.events.Publish(ctx, ev); err != nil {
		logger.Warn("status event publish failed", "error", err)
	}
}
