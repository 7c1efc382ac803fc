// Package config loads process settings from .env and the environment.
package config

import (
	"time"

	"github.com/k1networth/cdc-relay/internal/shared/env"
)

type Config struct {
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string

	Router RouterConfig
	Poller PollerConfig

	KafkaBrokers []string
}

type RouterConfig struct {
	// Routes extends the reference routes: "stream=DetailType:bus,...".
	Routes         string
	ProductsBus    string
	CustomersBus   string
	BusBackend     string
	BusAccount     string
	NATSURL        string
	PushgatewayURL string
}

type PollerConfig struct {
	QueueBackend      string
	SQSQueueURL       string
	KafkaTopic        string
	KafkaGroupID      string
	KafkaMaxInflight  int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	MaxMessages       int
	Workers           int
	FailurePolicy     string
	ErrorBackoff      time.Duration
	MetricsAddr       string

	DedupBackend string
	DatabaseURL  string
	RedisAddr    string
	DedupTTL     time.Duration
}

// Load reads .env without overriding variables that are already set, then the environment.
func Load() Config {
	loadDotEnv(".env")

	return Config{
		AppEnv:         env.String("APP_ENV", "dev"),
		LogLevel:       env.String("LOG_LEVEL", "info"),
		AWSRegion:      env.String("AWS_REGION", "us-east-1"),
		AWSEndpointURL: env.String("AWS_ENDPOINT_URL", ""),
		KafkaBrokers:   env.StringsCSV("KAFKA_BROKERS", []string{"localhost:9092"}),

		Router: RouterConfig{
			Routes:         env.String("ROUTES", ""),
			ProductsBus:    env.String("PRODUCTS_EVENT_BUS_NAME", ""),
			CustomersBus:   env.String("CUSTOMERS_EVENT_BUS_NAME", ""),
			BusBackend:     env.String("BUS_BACKEND", "eventbridge"),
			BusAccount:     env.String("BUS_ACCOUNT", ""),
			NATSURL:        env.String("NATS_URL", "nats://localhost:4222"),
			PushgatewayURL: env.String("PUSHGATEWAY_URL", ""),
		},

		Poller: PollerConfig{
			QueueBackend:      env.String("QUEUE_BACKEND", "sqs"),
			SQSQueueURL:       env.String("SQS_QUEUE_URL", ""),
			KafkaTopic:        env.String("KAFKA_TOPIC", "cdc.events"),
			KafkaGroupID:      env.String("KAFKA_GROUP_ID", "queue-poller"),
			KafkaMaxInflight:  env.Int("KAFKA_MAX_INFLIGHT", 1000),
			WaitTime:          env.Duration("POLL_WAIT_TIME", 5*time.Second),
			VisibilityTimeout: env.Duration("POLL_VISIBILITY_TIMEOUT", 10*time.Second),
			MaxMessages:       env.Int("POLL_MAX_MESSAGES", 10),
			Workers:           env.Int("POLL_WORKERS", 1),
			FailurePolicy:     env.String("POLL_FAILURE_POLICY", "isolate"),
			ErrorBackoff:      env.Duration("POLL_ERROR_BACKOFF", time.Second),
			MetricsAddr:       env.String("METRICS_ADDR", ":9091"),

			DedupBackend: env.String("DEDUP_BACKEND", "none"),
			DatabaseURL:  env.String("DATABASE_URL", ""),
			RedisAddr:    env.String("REDIS_ADDR", "localhost:6379"),
			DedupTTL:     env.Duration("DEDUP_TTL", 24*time.Hour),
		},
	}
}
