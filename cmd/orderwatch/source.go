package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

var errOrderNotFound = errors.New("order not found")

// apiSource reads order status from GET /orders/:id/status.
type apiSource struct {
	base string
	http *http.Client
}

func newAPISource(base string) *apiSource {
	return &apiSource{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type statusBody struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	TransactionID string    `json:"transactionId"`
	AuthCode      string    `json:"authCode"`
	ResponseText  string    `json:"responseText"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s *apiSource) Status(ctx context.Context, orderID string) (notify.StatusEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/orders/"+url.PathEscape(orderID)+"/status", nil)
	if err != nil {
		return notify.StatusEvent{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return notify.StatusEvent{}, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notify.StatusEvent{}, fmt.Errorf("%w: %s", errOrderNotFound, orderID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return notify.StatusEvent{}, fmt.Errorf("get status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var b statusBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return notify.StatusEvent{}, fmt.Errorf("decode status: %w", err)
	}
	return notify.StatusEvent{
		OrderID:       b.OrderID,
		Status:        orders.Status(b.Status),
		TransactionID: b.TransactionID,
		AuthCode:      b.AuthCode,
		ResponseText:  b.ResponseText,
		At:            b.UpdatedAt,
	}, nil
}
