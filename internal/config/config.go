// Package config loads service settings from the environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting read at startup.
type Config struct {
	Region           string
	EndpointOverride string

	OrdersTable            string
	OrderItemsTable        string
	OrderTransactionsTable string
	PaymentLogTable        string
	PaymentLogTTL          time.Duration

	OrderEventsQueueURL string

	RedisAddr     string
	RedisPassword string

	Processor ProcessorConfig
	Postback  PostbackConfig

	MetricsNamespace string
	LogLevel         string
	RunLocal         bool
	HTTPAddr         string
}

// ProcessorConfig carries the card processor account. Empty credentials are reported per request.
type ProcessorConfig struct {
	URL             string
	Account         string
	RestrictKey     string
	PostbackURL     string
	PostbackSecret  string
	DispatchTimeout time.Duration
}

// Complete reports whether the processor can be called at all.
func (p ProcessorConfig) Complete() bool {
	return p.URL != "" && p.Account != "" && p.RestrictKey != "" && p.PostbackURL != "" && p.PostbackSecret != ""
}

// PostbackConfig controls how callbacks are authenticated.
type PostbackConfig struct {
	Secret string
	// RelaxedAuth accepts callbacks that omit the shared secret, flagging them as reduced trust.
	RelaxedAuth bool
}

// envFiles are tried in order; the first readable one wins.
var envFiles = []string{".env", "../../.env"}

// Load reads configuration from the process environment. Values from a .env file only fill
// keys the environment does not already set.
func Load() (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			break
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	logTTL, err := parseDuration(get("PAYMENT_LOG_TTL", "2160h"), "PAYMENT_LOG_TTL")
	if err != nil {
		return Config{}, err
	}
	dispatchTimeout, err := parseDuration(get("DISPATCH_TIMEOUT", "30s"), "DISPATCH_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	relaxed, err := parseBool(get("POSTBACK_RELAXED_AUTH", "true"), "POSTBACK_RELAXED_AUTH")
	if err != nil {
		return Config{}, err
	}
	runLocal, err := parseBool(get("RUN_LOCAL", "false"), "RUN_LOCAL")
	if err != nil {
		return Config{}, err
	}

	secret := get("POSTBACK_SECRET", "")
	cfg := Config{
		Region:                 get("AWS_REGION", ""),
		EndpointOverride:       get("AWS_ENDPOINT_OVERRIDE", ""),
		OrdersTable:            get("ORDERS_TABLE", "orders"),
		OrderItemsTable:        get("ORDER_ITEMS_TABLE", "order_items"),
		OrderTransactionsTable: get("ORDER_TRANSACTIONS_TABLE", "order_transactions"),
		PaymentLogTable:        get("PAYMENT_LOG_TABLE", "payment_log"),
		PaymentLogTTL:          logTTL,
		OrderEventsQueueURL:    get("ORDER_EVENTS_QUEUE_URL", ""),
		RedisAddr:              get("REDIS_ADDR", ""),
		RedisPassword:          get("REDIS_PASSWORD", ""),
		Processor: ProcessorConfig{
			URL:             get("PROCESSOR_URL", ""),
			Account:         get("PROCESSOR_ACCOUNT", ""),
			RestrictKey:     get("PROCESSOR_RESTRICT_KEY", ""),
			PostbackURL:     get("POSTBACK_URL", ""),
			PostbackSecret:  secret,
			DispatchTimeout: dispatchTimeout,
		},
		Postback: PostbackConfig{
			Secret:      secret,
			RelaxedAuth: relaxed,
		},
		MetricsNamespace: get("METRICS_NAMESPACE", ""),
		LogLevel:         get("LOG_LEVEL", "info"),
		RunLocal:         runLocal,
		HTTPAddr:         get("HTTP_ADDR", ":8080"),
	}
	return cfg, nil
}

func parseDuration(v, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", key, err)
	}
	return d, nil
}

func parseBool(v, key string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config %s: %w", key, err)
	}
	return b, nil
}
