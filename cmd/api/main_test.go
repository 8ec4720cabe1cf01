package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/handlers"
	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := setupRouter(handlers.HandlerConfig{Logger: logging.Discard()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusChannel(t *testing.T) {
	clients := &aws.AWSClients{SQS: &awstest.SQS{}}

	pub, sub, rdb := statusChannel(config.Config{}, clients, logging.Discard())
	assert.Nil(t, rdb)
	assert.IsType(t, &notify.Hub{}, pub)
	assert.Same(t, pub, sub)

	pub, _, _ = statusChannel(config.Config{OrderEventsQueueURL: "https://sqs.local/q"}, clients, logging.Discard())
	assert.IsType(t, notify.Fanout{}, pub)

	pub, sub, rdb = statusChannel(config.Config{RedisAddr: "localhost:6379", OrderEventsQueueURL: "https://sqs.local/q"}, clients, logging.Discard())
	defer rdb.Close()
	assert.IsType(t, &notify.SQSPublisher{}, pub)
	assert.IsType(t, &notify.RedisSubscriber{}, sub)
}
