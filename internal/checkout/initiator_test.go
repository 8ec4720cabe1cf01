package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/postback"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

var processorConfig = config.ProcessorConfig{
	URL:            "https://processor.test/auth",
	Account:        "acct-1",
	RestrictKey:    "merchant-key",
	PostbackURL:    "https://shop.test/checkout/postback",
	PostbackSecret: "postback-secret",
}

// fakeDispatcher records requests. check runs at dispatch time.
type fakeDispatcher struct {
	mu    sync.Mutex
	reqs  []processor.AuthRequest
	err   error
	check func(processor.AuthRequest)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, r processor.AuthRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.check != nil {
		f.check(r)
	}
	f.reqs = append(f.reqs, r)
	return f.err
}

func (f *fakeDispatcher) sent() []processor.AuthRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processor.AuthRequest(nil), f.reqs...)
}

type fixture struct {
	init  *Initiator
	store *orders.Store
	dyn   *awstest.Dynamo
	disp  *fakeDispatcher
	cw    *awstest.CloudWatch
}

func newFixture(t *testing.T, cfg config.ProcessorConfig) *fixture {
	t.Helper()
	dyn := awstest.NewDynamo()
	dyn.CreateTable("orders", "order_id", "")
	dyn.CreateTable("order_items", "order_id", "line_no")
	dyn.CreateTable("order_transactions", "transaction_id", "")
	store := orders.NewStore(dyn, orders.Tables{Orders: "orders", Items: "order_items", Transactions: "order_transactions"})
	disp := &fakeDispatcher{}
	cw := &awstest.CloudWatch{}

	in := NewInitiator(cfg, store, disp, metrics.New(cw, "Checkout", logging.Discard()), logging.Discard())
	in.nowFunc = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return &fixture{init: in, store: store, dyn: dyn, disp: disp, cw: cw}
}

func validRequest(orderID string) validation.CheckoutRequest {
	return validation.CheckoutRequest{
		OrderID:         orderID,
		CardNumber:      "4242 4242 4242 4242",
		ExpiryMonth:     "12",
		ExpiryYear:      "2030",
		CVV:             "123",
		Amount:          "19.99",
		ShippingAddress: validation.Address{Address: "1 Market St", City: "San Francisco", State: "CA", ZipCode: "94105"},
		SameAsShipping:  true,
	}
}

func TestInitiate_CreatesOrderBeforeDispatch(t *testing.T) {
	f := newFixture(t, processorConfig)
	ctx := context.Background()

	var seen *orders.Order
	f.disp.check = func(r processor.AuthRequest) {
		o, err := f.store.Get(ctx, r.PostbackID)
		require.NoError(t, err)
		seen = o
	}

	res, err := f.init.Initiate(ctx, validRequest("order-1"))
	require.NoError(t, err)

	assert.Equal(t, "order-1", res.OrderID)
	assert.True(t, res.Dispatched)
	require.NotNil(t, seen, "order row must exist when the authorization is sent")
	assert.Equal(t, orders.StatusPending, seen.Status)
	assert.Equal(t, "4242", seen.CardLast4)
	assert.Equal(t, "19.99", seen.Amount)
	assert.Equal(t, seen.Shipping, seen.Billing)

	sent := f.disp.sent()
	require.Len(t, sent, 1)
	r := sent[0]
	assert.Equal(t, "Sale", r.TranType)
	assert.Equal(t, "19.99", r.Total)
	assert.Equal(t, "4242424242424242", r.CardNo)
	assert.Equal(t, "12", r.ExpMonth)
	assert.Equal(t, "30", r.ExpYear)
	assert.Equal(t, "order-1", r.PostbackID)
	assert.Equal(t, "postback-secret", r.PostbackRestrictKey)
	assert.Equal(t, "94105", r.Zip)
	assert.Equal(t, 1.0, f.cw.Total(metrics.ChargeInitiated))
}

func TestInitiate_AmountFormatting(t *testing.T) {
	for in, want := range map[string]string{"9.5": "9.50", "0.5": "0.50", "19.99": "19.99", "100": "100.00"} {
		f := newFixture(t, processorConfig)
		req := validRequest("order-amt")
		req.Amount = validation.FlexString(in)

		_, err := f.init.Initiate(context.Background(), req)
		require.NoError(t, err, in)

		assert.Equal(t, want, f.disp.sent()[0].Total, in)
		o, err := f.store.Get(context.Background(), "order-amt")
		require.NoError(t, err)
		assert.Equal(t, want, o.Amount, in)
	}
}

func TestInitiate_ValidationFailureTouchesNothing(t *testing.T) {
	f := newFixture(t, processorConfig)
	req := validRequest("order-1")
	req.CardNumber = "4242424242424241"

	_, err := f.init.Initiate(context.Background(), req)

	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "cardNumber", ve.Field)
	assert.Zero(t, f.dyn.TransactCalls)
	assert.Empty(t, f.disp.sent())
}

func TestInitiate_ExpiredCard(t *testing.T) {
	f := newFixture(t, processorConfig)
	req := validRequest("order-1")
	req.ExpiryMonth, req.ExpiryYear = "09", "26"

	_, err := f.init.Initiate(context.Background(), req)

	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "expiry", ve.Field)
}

func TestInitiate_MissingConfiguration(t *testing.T) {
	cfg := processorConfig
	cfg.RestrictKey = ""
	f := newFixture(t, cfg)

	_, err := f.init.Initiate(context.Background(), validRequest("order-1"))

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, f.dyn.TransactCalls)
	assert.Empty(t, f.disp.sent())
}

func TestInitiate_StoreFailureSendsNoCharge(t *testing.T) {
	f := newFixture(t, processorConfig)
	f.dyn.Err = errors.New("throughput exceeded")

	_, err := f.init.Initiate(context.Background(), validRequest("order-1"))

	assert.ErrorIs(t, err, ErrStoreWrite)
	assert.Empty(t, f.disp.sent())
}

func TestInitiate_DuplicateOrderID(t *testing.T) {
	f := newFixture(t, processorConfig)
	ctx := context.Background()

	_, err := f.init.Initiate(ctx, validRequest("order-1"))
	require.NoError(t, err)
	_, err = f.init.Initiate(ctx, validRequest("order-1"))

	assert.ErrorIs(t, err, orders.ErrOrderExists)
	assert.Len(t, f.disp.sent(), 1)
}

func TestInitiate_UnreachableLeavesOrderPending(t *testing.T) {
	f := newFixture(t, processorConfig)
	f.disp.err = fmt.Errorf("%w: connection refused", processor.ErrUnreachable)

	res, err := f.init.Initiate(context.Background(), validRequest("order-1"))
	require.NoError(t, err)

	assert.False(t, res.Dispatched)
	assert.Equal(t, orders.StatusPending, res.Status)
	assert.Equal(t, MessageMayBeProcessing, res.Message)
	o, err := f.store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 1.0, f.cw.Total(metrics.ChargeDispatchFailed))
}

func TestInitiate_LineItems(t *testing.T) {
	f := newFixture(t, processorConfig)
	req := validRequest("order-1")
	req.Items = []validation.Item{
		{SKU: "tee-m", Name: "T-shirt", Quantity: 1, Price: "9.5"},
		{SKU: "mug", Quantity: 2, Price: "5"},
	}

	_, err := f.init.Initiate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, f.dyn.Count("order_items"))
	item := f.dyn.Item("order_items", "order-1", "1")
	require.NotNil(t, item)
}

// A valid card ending 4242 for 19.99 is initiated, the processor approves it, and a polling
// client observes paid.
func TestCheckoutToPaid(t *testing.T) {
	f := newFixture(t, processorConfig)
	ctx := context.Background()
	ingestor := postback.NewIngestor(postback.Config{Secret: processorConfig.PostbackSecret}, f.store, nil, nil, nil, logging.Discard())

	res, err := f.init.Initiate(ctx, validRequest("order-a"))
	require.NoError(t, err)

	sent := f.disp.sent()[0]
	go func() {
		time.Sleep(10 * time.Millisecond)
		body := fmt.Sprintf("Success=Y,RespText=APPROVED,XactID=TX-100,AuthCode=654321,PostbackID=%s,RestrictKey=%s",
			sent.PostbackID, sent.PostbackRestrictKey)
		_, _ = ingestor.Ingest(ctx, []byte(body), nil)
	}()

	src := notify.StatusSourceFunc(func(ctx context.Context, orderID string) (notify.StatusEvent, error) {
		o, err := f.store.Get(ctx, orderID)
		if err != nil || o == nil {
			return notify.StatusEvent{}, fmt.Errorf("order %s unavailable: %v", orderID, err)
		}
		return notify.EventFromOrder(o), nil
	})
	w := notify.NewWatcher(notify.WatchConfig{
		GraceDelay: 5 * time.Millisecond,
		Interval:   5 * time.Millisecond,
		Timeout:    2 * time.Second,
	}, logging.Discard())

	out := w.Poll(ctx, res.OrderID, src)

	assert.Equal(t, notify.OutcomePaid, out.Outcome)
	assert.Equal(t, "TX-100", out.TransactionID)
	assert.Equal(t, "654321", out.AuthCode)
}
