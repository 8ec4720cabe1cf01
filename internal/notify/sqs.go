package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
)

// SQSPublisher queues status events for the relay worker.
type SQSPublisher struct {
	publisher *aws.Publisher
}

func NewSQSPublisher(p *aws.Publisher) *SQSPublisher {
	return &SQSPublisher{publisher: p}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return p.publisher.SendMessage(ctx, string(body), map[string]string{
		"order_id": ev.OrderID,
		"status":   string(ev.Status),
	})
}
