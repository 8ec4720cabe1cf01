package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(api string) *cobra.Command {
	root := &cobra.Command{Use: "orderwatch"}
	root.PersistentFlags().String("api", api, "")
	root.AddCommand(statusCmd(), watchCmd())
	return root
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/order-1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"order-1","status":"paid","transactionId":"TX-1"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRoot(srv.URL)
	root.SetOut(&out)
	root.SetArgs([]string{"status", "order-1"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "status=paid transaction=TX-1")
	assert.Contains(t, out.String(), "Payment received")
}

func TestStatusCommand_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := newRoot(srv.URL)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"status", "nope"})

	err := root.Execute()
	assert.ErrorIs(t, err, errOrderNotFound)
}

func TestWatchCommand_Declined(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) < 2 {
			_, _ = w.Write([]byte(`{"orderId":"order-1","status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"orderId":"order-1","status":"failed","responseText":"Insufficient Funds"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRoot(srv.URL)
	root.SetOut(&out)
	root.SetArgs([]string{"watch", "order-1", "--grace", "1ms", "--interval", "5ms", "--timeout", "2s", "--dwell", "0s"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "status=pending")
	assert.Contains(t, out.String(), "declined: ")
	assert.Contains(t, out.String(), "processor said: Insufficient Funds")
}

func TestWatchCommand_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":"order-1","status":"pending"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRoot(srv.URL)
	root.SetOut(&out)
	root.SetArgs([]string{"watch", "order-1", "--grace", "1ms", "--interval", "5ms", "--timeout", "30ms", "--dwell", "0s"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "timeout: We have not received confirmation")
}

func TestWatchCommand_PaidShowsReferencesForDwell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":"order-1","status":"paid","transactionId":"TX-1","authCode":"654321"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRoot(srv.URL)
	root.SetOut(&out)
	root.SetArgs([]string{"watch", "order-1", "--grace", "1ms", "--interval", "5ms", "--timeout", "2s", "--dwell", "150ms"})

	start := time.Now()
	require.NoError(t, root.Execute())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "result stays up for the dwell")

	assert.Contains(t, out.String(), "paid: Payment received")
	assert.Contains(t, out.String(), "order id:       order-1")
	assert.Contains(t, out.String(), "transaction id: TX-1")
	assert.Contains(t, out.String(), "auth code:      654321")
}

func TestDwell_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	dwell(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
