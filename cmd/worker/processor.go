package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
)

// Processor relays queued order status events to the push channel. The order store is
// re-read for every event so a stale or reordered message never announces an old status.
type Processor struct {
	orders    notify.OrderReader
	publisher notify.Publisher
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewProcessor creates a new relay processor.
func NewProcessor(store notify.OrderReader, publisher notify.Publisher, rec metrics.Recorder, logger *slog.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Processor{orders: store, publisher: publisher, metrics: rec, logger: logger}
}

// Handle processes an SQS batch. Messages that fail transiently are reported back so SQS
// redelivers only those; malformed messages are dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		logger := logging.FromContext(ctx, p.logger).With("message_id", rec.MessageId)
		if err := p.processMessage(ctx, logger, rec); err != nil {
			logger.Error("relay failed, message will be retried", "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, logger *slog.Logger, rec events.SQSMessage) error {
	msg, err := notify.DecodeEvent([]byte(rec.Body))
	if err != nil {
		logger.Warn("dropping malformed status event", "error", err)
		return nil
	}
	logger = logger.With("order_id", msg.OrderID)

	order, err := p.orders.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("read order %s: %w", msg.OrderID, err)
	}
	if order == nil {
		logger.Warn("status event for unknown order dropped")
		return nil
	}

	current := notify.EventFromOrder(order)
	if current.Status != msg.Status {
		logger.Info("queued status is stale, relaying stored status", "queued", string(msg.Status), "stored", string(current.Status))
	}
	if err := p.publisher.Publish(ctx, current); err != nil {
		return fmt.Errorf("publish order %s: %w", msg.OrderID, err)
	}

	p.metrics.Count(ctx, metrics.StatusEventRelayed, metrics.Dimension{Name: "Status", Value: string(current.Status)})
	logger.Info("status event relayed", "status", string(current.Status))
	return nil
}
