package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/k1networth/cdc-relay/internal/dedup"
	"github.com/k1networth/cdc-relay/internal/poller"
	"github.com/k1networth/cdc-relay/internal/queue"
	"github.com/k1networth/cdc-relay/internal/shared/awsx"
	"github.com/k1networth/cdc-relay/internal/shared/config"
	"github.com/k1networth/cdc-relay/internal/shared/db"
	"github.com/k1networth/cdc-relay/internal/shared/httpx"
	"github.com/k1networth/cdc-relay/internal/shared/kafkax"
	"github.com/k1networth/cdc-relay/internal/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const appName = "queue-poller"

func main() {
	cfg := config.Load()
	log := logger.New(appName, cfg.AppEnv, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("queue_poller_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	pc := cfg.Poller

	policy, err := poller.ParseFailurePolicy(pc.FailurePolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, closeQueue, err := newQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []poller.Option{poller.WithMetrics(poller.NewMetrics(reg))}
	store, closeStore, err := newStore(ctx, pc, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		opts = append(opts, poller.WithStore(store))
	}

	p := poller.New(q, log, poller.Options{
		Receive: queue.ReceiveOptions{
			MaxMessages:       pc.MaxMessages,
			WaitTime:          pc.WaitTime,
			VisibilityTimeout: pc.VisibilityTimeout,
		},
		Workers:       pc.Workers,
		FailurePolicy: policy,
		ErrorBackoff:  pc.ErrorBackoff,
	}, opts...)

	var ready atomic.Bool
	srv := &http.Server{
		Addr:              pc.MetricsAddr,
		Handler:           httpx.NewRouter(log, reg, ready.Load),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The ops server follows the poller: when Run ends, for any reason, the server stops too.
	g, gctx := errgroup.WithContext(ctx)
	pollCtx, stopPolling := context.WithCancel(gctx)
	defer stopPolling()

	g.Go(func() error {
		return httpx.Serve(pollCtx, log, srv, 5*time.Second)
	})
	g.Go(func() error {
		defer stopPolling()
		ready.Store(true)
		defer ready.Store(false)
		return p.Run(pollCtx)
	})

	err = g.Wait()
	log.Info("queue_poller_shutdown")
	return err
}

func newQueue(ctx context.Context, cfg config.Config) (queue.Client, func(), error) {
	pc := cfg.Poller

	switch pc.QueueBackend {
	case "sqs":
		if pc.SQSQueueURL == "" {
			return nil, nil, errors.New("SQS_QUEUE_URL is empty")
		}
		awsCfg, err := awsx.Load(ctx, awsx.Config{Region: cfg.AWSRegion, EndpointURL: cfg.AWSEndpointURL})
		if err != nil {
			return nil, nil, err
		}
		return queue.NewSQS(awsx.NewSQS(awsCfg, cfg.AWSEndpointURL), pc.SQSQueueURL), func() {}, nil

	case "kafka":
		c := kafkax.NewConsumer(kafkax.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   pc.KafkaTopic,
			GroupID: pc.KafkaGroupID,
		})
		return queue.NewKafka(c, pc.KafkaTopic, queue.WithMaxInflight(pc.KafkaMaxInflight)), func() { _ = c.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_BACKEND %q", pc.QueueBackend)
	}
}

func newStore(ctx context.Context, pc config.PollerConfig, log *slog.Logger) (dedup.Store, func(), error) {
	backend, err := dedup.ParseBackend(pc.DedupBackend)
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case dedup.BackendPostgres:
		pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: pc.DatabaseURL})
		if err != nil {
			return nil, nil, fmt.Errorf("db open: %w", err)
		}
		if err := dedup.Migrate(pg); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Info("dedup_enabled", slog.String("backend", string(backend)))
		return dedup.NewPostgres(pg), func() {
			if err := pg.Close(); err != nil {
				log.Error("db_close_failed", slog.String("err", err.Error()))
			}
		}, nil

	case dedup.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: pc.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info("dedup_enabled", slog.String("backend", string(backend)), slog.String("ttl", pc.DedupTTL.String()))
		return dedup.NewRedis(client, pc.DedupTTL), func() { _ = client.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}
