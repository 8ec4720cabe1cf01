package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/postback"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// Initiator starts charges.
type Initiator interface {
	Initiate(ctx context.Context, req validation.CheckoutRequest) (checkout.Result, error)
}

// Ingestor applies processor postbacks.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte, headers http.Header) (postback.Ack, error)
}

// HandlerConfig groups dependencies for the checkout routes.
type HandlerConfig struct {
	Initiator Initiator
	Ingestor  Ingestor
	Orders    notify.OrderReader
	// Subscriber feeds the event stream; when nil the stream re-reads the store on every interval.
	Subscriber notify.Subscriber
	Logger     *slog.Logger

	StreamInterval time.Duration
	StreamTimeout  time.Duration
}

func (cfg HandlerConfig) withDefaults() HandlerConfig {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 5 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
