package processor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// ErrUnreachable means the request could not be written to the processor.
var ErrUnreachable = errors.New("processor unreachable")

// maxResponseLog bounds how much of the processor's synchronous reply is read for logging.
const maxResponseLog = 4 << 10

// Client sends authorization requests over TLS 1.2 or newer.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport still gets the TLS floor.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a Client posting to endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = enforceTLS12(c.http)
	return c
}

func enforceTLS12(hc *http.Client) *http.Client {
	out := *hc
	var tr *http.Transport
	switch t := hc.Transport.(type) {
	case nil:
		tr = http.DefaultTransport.(*http.Transport).Clone()
	case *http.Transport:
		tr = t.Clone()
	default:
		return &out
	}
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}
	if tr.TLSClientConfig.MinVersion < tls.VersionTLS12 {
		tr.TLSClientConfig.MinVersion = tls.VersionTLS12
	}
	out.Transport = tr
	return &out
}

func (c *Client) newRequest(ctx context.Context, r AuthRequest) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(r.Form().Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// Dispatcher sends authorizations without waiting for settlement. Dispatch returns once the
// request has been written to the network; the rest of the exchange runs on a detached
// goroutine whose errors are only logged.
type Dispatcher struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. timeout bounds each detached exchange.
func NewDispatcher(client *Client, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{client: client, timeout: timeout, logger: logger}
}

// Dispatch starts the authorization and returns when the request is on the wire.
// A failure before that point is reported as ErrUnreachable.
func (d *Dispatcher) Dispatch(ctx context.Context, r AuthRequest) error {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	wrote := make(chan error, 1)
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			select {
			case wrote <- info.Err:
			default:
			}
		},
	}
	req, err := d.client.newRequest(httptrace.WithClientTrace(detached, trace), r)
	if err != nil {
		cancel()
		return err
	}

	logger := d.logger.With("postback_id", r.PostbackID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		resp, err := d.client.http.Do(req)
		if err != nil {
			select {
			case wrote <- err:
			default:
			}
			logger.Warn("processor exchange failed", "error", err)
			return
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseLog))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn("processor returned non-2xx", "status", resp.StatusCode, "body", validation.Redact(string(body)))
			return
		}
		logger.Debug("processor accepted authorization", "status", resp.StatusCode, "body", validation.Redact(string(body)))
	}()

	select {
	case err := <-wrote:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
	}
}

// Wait blocks until every detached exchange has finished. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
