package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every SendMessage call.
type SQS struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (q *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, in)
	return &sqs.SendMessageOutput{MessageId: awsString(fmt.Sprintf("msg-%d", len(q.Messages)))}, nil
}

// Sent returns a snapshot of the sent messages.
func (q *SQS) Sent() []*sqs.SendMessageInput {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*sqs.SendMessageInput(nil), q.Messages...)
}

// CloudWatch records every datum passed to PutMetricData.
type CloudWatch struct {
	mu    sync.Mutex
	Data  []cwtypes.MetricDatum
	Calls int
	Err   error
}

func (c *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	c.Data = append(c.Data, in.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Total sums the values recorded for a metric name.
func (c *CloudWatch) Total(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, d := range c.Data {
		if d.MetricName != nil && *d.MetricName == name && d.Value != nil {
			sum += *d.Value
		}
	}
	return sum
}
