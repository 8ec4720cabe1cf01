package postback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/paymentlog"
)

const testSecret = "s3cret-key"

type fixture struct {
	ing   *Ingestor
	store *orders.Store
	dyn   *awstest.Dynamo
	hub   *notify.Hub
	cw    *awstest.CloudWatch
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dyn := awstest.NewDynamo()
	dyn.CreateTable("orders", "order_id", "")
	dyn.CreateTable("order_items", "order_id", "line_no")
	dyn.CreateTable("order_transactions", "transaction_id", "")
	dyn.CreateTable("payment_log", "entry_id", "")

	store := orders.NewStore(dyn, orders.Tables{Orders: "orders", Items: "order_items", Transactions: "order_transactions"})
	plog := paymentlog.NewStore(dyn, "payment_log", time.Hour)
	hub := notify.NewHub()
	cw := &awstest.CloudWatch{}
	logs := &bytes.Buffer{}
	logger := logging.New(logs, "debug", true)

	f := &fixture{
		ing:   NewIngestor(cfg, store, plog, hub, metrics.New(cw, "Checkout", logger), logger),
		store: store,
		dyn:   dyn,
		hub:   hub,
		cw:    cw,
		logs:  logs,
	}
	for _, id := range []string{"o-1", "o-2"} {
		require.NoError(t, store.Create(context.Background(), orders.Order{
			OrderID:  id,
			Amount:   "19.99",
			Shipping: orders.Address{Address: "1 Market St", ZipCode: "94105"},
			Billing:  orders.Address{Address: "1 Market St", ZipCode: "94105"},
		}, nil))
	}
	return f
}

func strict() Config { return Config{Secret: testSecret} }

func approved(orderID, tx string) []byte {
	return []byte(fmt.Sprintf(`{"Success":"Y","RespText":"APPROVED","XactID":%q,"AuthCode":"123456","AVSResp":"Y","CVV2Resp":"M","PostbackID":%q,"RestrictKey":%q}`,
		tx, orderID, testSecret))
}

func declined(orderID, tx string) []byte {
	return []byte(fmt.Sprintf("Success=N,RespText=Insufficient%%20Funds,XactID=%s,PostbackID=%s,RestrictKey=%s", tx, orderID, testSecret))
}

func indeterminate(orderID, tx string) []byte {
	return []byte(fmt.Sprintf("Success=U;RespText=Call%%20Center;XactID=%s;PostbackID=%s;RestrictKey=%s", tx, orderID, testSecret))
}

func (f *fixture) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (f *fixture) logResult(raw []byte) string {
	item := f.dyn.Item("payment_log", paymentlog.EntryID(raw))
	if item == nil {
		return ""
	}
	if v, ok := item["result"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

var jsonHeaders = http.Header{"Content-Type": []string{"application/json"}}

func TestIngest_ApprovedMarksPaid(t *testing.T) {
	f := newFixture(t, strict())
	sub, err := f.hub.Subscribe(context.Background(), "o-1")
	require.NoError(t, err)
	defer sub.Close()

	raw := approved("o-1", "TX-1")
	ack, err := f.ing.Ingest(context.Background(), raw, jsonHeaders)
	require.NoError(t, err)

	assert.Equal(t, Ack{
		Success:       true,
		Status:        "paid",
		Message:       "payment approved",
		TransactionID: "TX-1",
		AuthCode:      "123456",
		OrderID:       "o-1",
	}, ack)

	o := f.order(t, "o-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "TX-1", o.TransactionID)
	assert.Equal(t, "M", o.CVVResult)
	assert.NotNil(t, o.ResolvedAt)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, orders.StatusPaid, ev.Status)
		assert.Equal(t, "TX-1", ev.TransactionID)
	default:
		t.Fatal("expected a status event")
	}
	assert.Equal(t, 1.0, f.cw.Total(metrics.PostbackApplied))
	assert.Equal(t, paymentlog.ResultApplied, f.logResult(raw))
}

func TestIngest_DeclinedMarksFailed(t *testing.T) {
	f := newFixture(t, strict())

	ack, err := f.ing.Ingest(context.Background(), declined("o-1", "TX-2"), nil)
	require.NoError(t, err)

	assert.True(t, ack.Success)
	assert.Equal(t, "failed", ack.Status)
	assert.Contains(t, ack.Message, "Insufficient Funds")

	o := f.order(t, "o-1")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.Equal(t, "Insufficient Funds", o.ResponseText)
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, strict())
	raw := approved("o-1", "TX-1")

	first, err := f.ing.Ingest(context.Background(), raw, jsonHeaders)
	require.NoError(t, err)
	before := f.order(t, "o-1")

	second, err := f.ing.Ingest(context.Background(), raw, jsonHeaders)
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	after := f.order(t, "o-1")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "second delivery must not write the order")
	assert.Equal(t, 1.0, f.cw.Total(metrics.PostbackApplied))
	assert.Equal(t, 1.0, f.cw.Total(metrics.PostbackDuplicate))
	assert.Equal(t, paymentlog.ResultApplied, f.logResult(raw), "the delivery that changed the order stays recorded")
	assert.Contains(t, f.logs.String(), `"prior_result":"APPLIED"`)
}

func TestIngest_OutOfOrderNeverRegresses(t *testing.T) {
	f := newFixture(t, strict())
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, approved("o-1", "TX-1"), nil)
	require.NoError(t, err)

	ack, err := f.ing.Ingest(ctx, indeterminate("o-1", "TX-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "paid", ack.Status)

	ack, err = f.ing.Ingest(ctx, declined("o-1", "TX-3"), nil)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.True(t, ack.Duplicate)
	assert.Equal(t, "paid", ack.Status)
	assert.Equal(t, "TX-1", ack.TransactionID)

	o := f.order(t, "o-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "TX-1", o.TransactionID)
}

func TestIngest_IndeterminateLeavesPendingForLaterPostback(t *testing.T) {
	f := newFixture(t, strict())
	ctx := context.Background()

	raw := indeterminate("o-1", "TX-1")
	ack, err := f.ing.Ingest(ctx, raw, nil)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, "pending", ack.Status)
	assert.Contains(t, ack.Message, "Call Center")
	assert.Equal(t, orders.StatusPending, f.order(t, "o-1").Status)
	assert.Equal(t, paymentlog.ResultPending, f.logResult(raw))

	ack, err = f.ing.Ingest(ctx, approved("o-1", "TX-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "paid", ack.Status)
	assert.False(t, ack.Duplicate)
}

func TestIngest_UnknownOutcomeCodeIsIndeterminate(t *testing.T) {
	f := newFixture(t, strict())
	raw := []byte("Success=Q,XactID=TX-1,OrderID=o-1,RestrictKey=" + testSecret)

	ack, err := f.ing.Ingest(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "pending", ack.Status)
	assert.Equal(t, orders.StatusPending, f.order(t, "o-1").Status)
	assert.Contains(t, f.logs.String(), "unknown outcome code")
}

func TestIngest_MissingTransactionID(t *testing.T) {
	f := newFixture(t, strict())
	raw := []byte("Success=Y,AuthCode=123456,PostbackID=o-1,RestrictKey=" + testSecret)

	_, err := f.ing.Ingest(context.Background(), raw, nil)

	require.ErrorIs(t, err, ErrMissingFields)
	var mf *MissingFieldsError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{FieldXactID}, mf.Fields)
	assert.Equal(t, orders.StatusPending, f.order(t, "o-1").Status)
	assert.Equal(t, paymentlog.ResultRejected, f.logResult(raw))
}

func TestIngest_MissingOrderID(t *testing.T) {
	f := newFixture(t, strict())
	_, err := f.ing.Ingest(context.Background(), []byte("Success=Y,XactID=TX-1,RestrictKey="+testSecret), nil)
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestIngest_Authentication(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		body    string
		wantErr bool
		reduced bool
	}{
		{"wrong secret", strict(), "Success=Y,XactID=TX-1,PostbackID=o-1,RestrictKey=guess", true, false},
		{"wrong secret relaxed", Config{Secret: testSecret, RelaxedAuth: true}, "Success=Y,XactID=TX-1,PostbackID=o-1,RestrictKey=guess", true, false},
		{"absent secret strict", strict(), "Success=Y,XactID=TX-1,PostbackID=o-1", true, false},
		{"absent secret relaxed", Config{Secret: testSecret, RelaxedAuth: true}, "Success=Y,XactID=TX-1,PostbackID=o-1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			ack, err := f.ing.Ingest(context.Background(), []byte(tt.body), nil)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrAuthentication)
				assert.Equal(t, orders.StatusPending, f.order(t, "o-1").Status)
				assert.Equal(t, 1.0, f.cw.Total(metrics.PostbackRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.reduced, ack.ReducedTrust)
			assert.Equal(t, orders.StatusPaid, f.order(t, "o-1").Status)
		})
	}
}

func TestIngest_DelimitedValuesKeepPlusAndSeparators(t *testing.T) {
	f := newFixture(t, Config{Secret: "ab+cd"})

	raw := []byte("Success=N;RespText=Do Not Honor; Call Issuer+1;XactID=TX-5;PostbackID=o-1;RestrictKey=ab+cd")
	ack, err := f.ing.Ingest(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", ack.Status)

	o := f.order(t, "o-1")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.Equal(t, "Do Not Honor; Call Issuer+1", o.ResponseText)

	raw = []byte("Success=Y,RespText=Call & verify,XactID=TX-6,PostbackID=o-2,RestrictKey=ab+cd")
	ack, err = f.ing.Ingest(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "paid", ack.Status)
	assert.Equal(t, "Call & verify", f.order(t, "o-2").ResponseText)
}

func TestIngest_UnknownOrder(t *testing.T) {
	f := newFixture(t, strict())
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, approved("o-missing", "TX-1"), nil)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.ing.Ingest(ctx, indeterminate("o-missing", "TX-1"), nil)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestIngest_UnparseablePayload(t *testing.T) {
	f := newFixture(t, strict())
	raw := []byte("this is not a postback")

	_, err := f.ing.Ingest(context.Background(), raw, nil)

	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, paymentlog.ResultRejected, f.logResult(raw))
}

func TestIngest_TransactionBoundToAnotherOrder(t *testing.T) {
	f := newFixture(t, strict())
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, approved("o-1", "TX-1"), nil)
	require.NoError(t, err)

	ack, err := f.ing.Ingest(ctx, approved("o-2", "TX-1"), nil)
	require.NoError(t, err)
	assert.False(t, ack.Success)
	assert.Equal(t, orders.StatusPending, f.order(t, "o-2").Status)
}

func TestIngest_StoreUnavailable(t *testing.T) {
	f := newFixture(t, strict())
	f.dyn.Err = errors.New("service unavailable")

	_, err := f.ing.Ingest(context.Background(), approved("o-1", "TX-1"), nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 1.0, f.cw.Total(metrics.PostbackError))
}

func TestIngest_ScrubsCardDataAndSecrets(t *testing.T) {
	f := newFixture(t, strict())
	raw := []byte("Success=Y,XactID=TX-1,PostbackID=o-1,CardNo=4111111111111111,CVV2=123,RestrictKey=" + testSecret)

	_, err := f.ing.Ingest(context.Background(), raw, nil)
	require.NoError(t, err)

	stored := f.order(t, "o-1").RawPayload
	assert.Contains(t, stored, "************1111")
	assert.NotContains(t, stored, "4111111111111111")
	assert.NotContains(t, stored, "CVV2=123")
	assert.NotContains(t, stored, testSecret)

	item := f.dyn.Item("payment_log", paymentlog.EntryID(raw))
	require.NotNil(t, item)
	payload := item["payload"].(*types.AttributeValueMemberS).Value
	assert.NotContains(t, payload, "4111111111111111")
	assert.NotContains(t, payload, testSecret)

	assert.NotContains(t, f.logs.String(), "4111111111111111")
	assert.NotContains(t, f.logs.String(), testSecret)
}

func TestIngest_UnparseablePayloadLogIsScrubbed(t *testing.T) {
	f := newFixture(t, strict())

	_, err := f.ing.Ingest(context.Background(), []byte("card 4111111111111111 key "+testSecret), nil)

	require.ErrorIs(t, err, ErrFormat)
	assert.NotContains(t, f.logs.String(), "4111111111111111")
	assert.NotContains(t, f.logs.String(), testSecret)
}
