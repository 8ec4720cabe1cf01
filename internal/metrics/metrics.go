// Package metrics publishes reconciliation counters to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
)

// Metric names.
const (
	ChargeInitiated       = "ChargeInitiated"
	ChargeRejected        = "ChargeRejected"
	ChargeDispatchFailed  = "ChargeDispatchFailed"
	PostbackApplied       = "PostbackApplied"
	PostbackDuplicate     = "PostbackDuplicate"
	PostbackIndeterminate = "PostbackIndeterminate"
	PostbackRejected      = "PostbackRejected"
	PostbackError         = "PostbackError"
	StatusEventRelayed    = "StatusEventRelayed"
)

// Dimension narrows a metric, e.g. {"Reason", "auth"}.
type Dimension struct {
	Name  string
	Value string
}

// Recorder counts events. Implementations never fail the caller.
type Recorder interface {
	Count(ctx context.Context, name string, dims ...Dimension)
}

// New returns a CloudWatch recorder, or a no-op recorder when namespace is empty.
func New(client aws.CloudWatchAPI, namespace string, logger *slog.Logger) Recorder {
	if client == nil || namespace == "" {
		return Nop{}
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger, nowFunc: time.Now}
}

// CloudWatch writes one datum per Count call.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

func (c *CloudWatch) Count(ctx context.Context, name string, dims ...Dimension) {
	cwDims := make([]cwtypes.Dimension, 0, len(dims))
	for _, d := range dims {
		cwDims = append(cwDims, cwtypes.Dimension{Name: awsString(d.Name), Value: awsString(d.Value)})
	}
	one := 1.0
	now := c.nowFunc()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: awsString(name),
			Dimensions: cwDims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      &one,
			Timestamp:  &now,
		}},
	})
	if err != nil {
		c.logger.Warn("put metric data failed", "metric", name, "error", err)
	}
}

// Nop discards every count.
type Nop struct{}

func (Nop) Count(context.Context, string, ...Dimension) {}

func awsString(s string) *string { return &s }
