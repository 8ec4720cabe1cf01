package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.RedisAddr == "" {
		log.Fatalf("REDIS_ADDR is required: the worker relays status events to Redis")
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, !cfg.RunLocal)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.Region, EndpointOverride: cfg.EndpointOverride})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:       cfg.OrdersTable,
		Items:        cfg.OrderItemsTable,
		Transactions: cfg.OrderTransactionsTable,
	})
	p := NewProcessor(store, notify.NewRedisPublisher(rdb), metrics.New(clients.CloudWatch, cfg.MetricsNamespace, logger), logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"orderId":"local-order-1","status":"paid"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(ctx, event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local handler error: %v (failures: %d)", err, len(resp.BatchItemFailures))
		}
		return
	}

	lambda.Start(p.Handle)
}
