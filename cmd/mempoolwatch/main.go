package main

import (
	"context"
	"log"

	"github.com/gabapcia/mempoolwatch/internal/config"
	"github.com/gabapcia/mempoolwatch/internal/handlers/cli"
	"github.com/gabapcia/mempoolwatch/internal/infra/feed/websocket"
	"github.com/gabapcia/mempoolwatch/internal/infra/metrics/prometheus"
	"github.com/gabapcia/mempoolwatch/internal/infra/probe"
	"github.com/gabapcia/mempoolwatch/internal/infra/queue/kafka"
	"github.com/gabapcia/mempoolwatch/internal/infra/storage/redis"
	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
	"github.com/gabapcia/mempoolwatch/internal/pkg/resilience/retry"
	"github.com/gabapcia/mempoolwatch/internal/pkg/telemetry"
	"github.com/gabapcia/mempoolwatch/internal/txingest"
)

// serviceName identifies this process in telemetry backends.
const serviceName = "mempoolwatch"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		log.Fatalf("initializing telemetry: %v", err)
	}
	defer shutdownTelemetry(ctx)

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	// The cache server may still be coming up alongside this process, so the
	// initial connection is retried with backoff.
	var cache *redis.TransactionCache
	if err := retry.New().Execute(ctx, func() error {
		client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}

		cache = redis.NewTransactionCache(client, cfg.CacheTTL)
		return nil
	}); err != nil {
		logger.Fatal(ctx, "connecting to cache server", "error", err)
	}

	var (
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		feed      = websocket.New(websocket.WithDialTimeout(cfg.DialTimeout))
		prober    = probe.New(cfg.DialTimeout)
		metrics   = prometheus.New()
	)

	svc := txingest.New(cfg.Chains, feed, publisher, cache,
		txingest.WithMetrics(metrics),
		txingest.WithProber(prober),
		txingest.WithReconnectBackoff(cfg.ReconnectBackoff),
		txingest.WithHealthCheckInterval(cfg.HealthCheckInterval),
		txingest.WithSinkTimeout(cfg.SinkTimeout),
		txingest.WithEMAAlpha(cfg.EMAAlpha),
		txingest.WithViabilityFloor(cfg.ViabilityFloor),
		txingest.WithStalenessWindow(cfg.StalenessWindow),
	)

	if err := cli.Run(ctx, svc, prober, cache, cfg.Chains, metrics.Handler(), cfg.MetricsAddr); err != nil {
		logger.Fatal(ctx, "running cli", "error", err)
	}
}
