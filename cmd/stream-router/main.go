package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/k1networth/cdc-relay/internal/bus"
	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/relay"
	"github.com/k1networth/cdc-relay/internal/router"
	"github.com/k1networth/cdc-relay/internal/shared/awsx"
	"github.com/k1networth/cdc-relay/internal/shared/config"
	"github.com/k1networth/cdc-relay/internal/shared/kafkax"
	"github.com/k1networth/cdc-relay/internal/shared/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const appName = "stream-router"

func main() {
	cfg := config.Load()
	log := logger.New(appName, cfg.AppEnv, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("stream_router_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := routingTable(cfg.Router)
	if err != nil {
		return err
	}
	log.Info("routes_loaded", slog.Any("streams", table.Streams()), slog.String("bus_backend", cfg.Router.BusBackend))

	b, closeBus, err := newBus(ctx, cfg, table)
	if err != nil {
		return err
	}
	defer closeBus()

	reg := prometheus.NewRegistry()
	pub := publish.NewPublisher(b, log, publish.NewMetrics(reg))
	h := relay.NewHandler(router.New(table), pub, log)

	var pusher *push.Pusher
	if cfg.Router.PushgatewayURL != "" {
		pusher = push.New(cfg.Router.PushgatewayURL, appName).Gatherer(reg)
	}
	handle := func(ctx context.Context, ev events.KinesisEvent) error {
		err := h.Handle(ctx, ev)
		pushMetrics(ctx, log, pusher)
		return err
	}

	if _, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API"); ok {
		lambda.Start(handle)
		return nil
	}

	// Outside Lambda: one KinesisEvent document on stdin.
	var ev events.KinesisEvent
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		return fmt.Errorf("read kinesis event from stdin: %w", err)
	}
	return handle(ctx, ev)
}

func routingTable(cfg config.RouterConfig) (router.Table, error) {
	routes := router.ReferenceRoutes(cfg.ProductsBus, cfg.CustomersBus)
	extra, err := router.ParseRoutes(cfg.Routes)
	if err != nil {
		return router.Table{}, fmt.Errorf("ROUTES: %w", err)
	}
	maps.Copy(routes, extra)

	table, err := router.NewTable(routes)
	if err != nil {
		return router.Table{}, err
	}
	if table.Len() == 0 {
		return router.Table{}, errors.New("no routes configured: set PRODUCTS_EVENT_BUS_NAME, CUSTOMERS_EVENT_BUS_NAME or ROUTES")
	}
	return table, nil
}

func newBus(ctx context.Context, cfg config.Config, table router.Table) (publish.Bus, func(), error) {
	env := bus.Enveloper{Account: cfg.Router.BusAccount, Region: cfg.AWSRegion}

	switch cfg.Router.BusBackend {
	case "eventbridge":
		awsCfg, err := awsx.Load(ctx, awsx.Config{Region: cfg.AWSRegion, EndpointURL: cfg.AWSEndpointURL})
		if err != nil {
			return nil, nil, err
		}
		return bus.NewEventBridge(awsx.NewEventBridge(awsCfg, cfg.AWSEndpointURL)), func() {}, nil

	case "kafka":
		p := kafkax.NewProducer(kafkax.ProducerConfig{
			Brokers:          cfg.KafkaBrokers,
			ClientID:         appName,
			AutoCreateTopics: true,
		})
		return bus.NewKafka(p, env), func() { _ = p.Close() }, nil

	case "nats":
		nc, err := nats.Connect(cfg.Router.NATSURL, nats.Name(appName))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := bus.EnsureStreams(setupCtx, js, table.Buses()); err != nil {
			nc.Close()
			return nil, nil, err
		}
		return bus.NewNATS(js, env), func() { _ = nc.Drain() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown BUS_BACKEND %q", cfg.Router.BusBackend)
	}
}

func pushMetrics(ctx context.Context, log *slog.Logger, p *push.Pusher) {
	if p == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.PushContext(pushCtx); err != nil {
		log.Warn("metrics_push_failed", slog.String("err", err.Error()))
	}
}
