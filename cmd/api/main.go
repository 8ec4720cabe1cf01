package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/handlers"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/metrics"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/paymentlog"
	"github.com/imrishuroy/go-checkout-reconcile/internal/postback"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handlers.RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterCheckoutRoutes(r, cfg)
	handlers.RegisterPostbackRoutes(r, cfg)
	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

// statusChannel picks how status events reach waiting clients: Redis pub/sub when configured
// (optionally via the SQS relay worker), otherwise an in-process hub.
func statusChannel(cfg config.Config, clients *aws.AWSClients, logger *slog.Logger) (notify.Publisher, notify.Subscriber, *redis.Client) {
	var sqsPublisher notify.Publisher
	if cfg.OrderEventsQueueURL != "" {
		sqsPublisher = notify.NewSQSPublisher(aws.NewPublisher(clients.SQS, cfg.OrderEventsQueueURL))
	}

	if cfg.RedisAddr == "" {
		hub := notify.NewHub()
		if sqsPublisher != nil {
			return notify.Fanout{hub, sqsPublisher}, hub, nil
		}
		return hub, hub, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	sub := notify.NewRedisSubscriber(rdb, logger)
	if sqsPublisher != nil {
		return sqsPublisher, sub, rdb
	}
	return notify.NewRedisPublisher(rdb), sub, rdb
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, !cfg.RunLocal)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.Region, EndpointOverride: cfg.EndpointOverride})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	store := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:       cfg.OrdersTable,
		Items:        cfg.OrderItemsTable,
		Transactions: cfg.OrderTransactionsTable,
	})
	paymentLog := paymentlog.NewStore(clients.DynamoDB, cfg.PaymentLogTable, cfg.PaymentLogTTL)
	recorder := metrics.New(clients.CloudWatch, cfg.MetricsNamespace, logger)

	publisher, subscriber, rdb := statusChannel(cfg, clients, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	if !cfg.Processor.Complete() {
		logger.Warn("processor credentials incomplete, charges will be refused")
	}
	if cfg.Postback.Secret == "" {
		logger.Warn("POSTBACK_SECRET is empty, postbacks cannot be authenticated", "relaxed_auth", cfg.Postback.RelaxedAuth)
	}

	dispatcher := processor.NewDispatcher(processor.NewClient(cfg.Processor.URL), cfg.Processor.DispatchTimeout, logger)

	r := setupRouter(handlers.HandlerConfig{
		Initiator: checkout.NewInitiator(cfg.Processor, store, dispatcher, recorder, logger),
		Ingestor: postback.NewIngestor(postback.Config{
			Secret:      cfg.Postback.Secret,
			RelaxedAuth: cfg.Postback.RelaxedAuth,
		}, store, paymentLog, publisher, recorder, logger),
		Orders:     store,
		Subscriber: subscriber,
		Logger:     logger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", "addr", cfg.HTTPAddr)
		err := r.Run(cfg.HTTPAddr)
		dispatcher.Wait()
		if err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
