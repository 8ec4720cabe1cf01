package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
)

func TestNew_NopWithoutNamespace(t *testing.T) {
	_, ok := New(&awstest.CloudWatch{}, "", logging.Discard()).(Nop)
	assert.True(t, ok)
}

func TestCloudWatch_Count(t *testing.T) {
	cw := &awstest.CloudWatch{}
	r := New(cw, "Checkout", logging.Discard())

	r.Count(context.Background(), PostbackApplied, Dimension{Name: "Status", Value: "paid"})
	r.Count(context.Background(), PostbackApplied)

	assert.Equal(t, 2.0, cw.Total(PostbackApplied))
	require.Len(t, cw.Data, 2)
	require.Len(t, cw.Data[0].Dimensions, 1)
	assert.Equal(t, "Status", *cw.Data[0].Dimensions[0].Name)
}

func TestCloudWatch_CountSwallowsErrors(t *testing.T) {
	cw := &awstest.CloudWatch{Err: errors.New("throttled")}
	r := New(cw, "Checkout", logging.Discard())

	assert.NotPanics(t, func() { r.Count(context.Background(), PostbackError) })
	assert.Equal(t, 1, cw.Calls)
}
