package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/stratuspay/fraudengine/internal/api"
	"github.com/stratuspay/fraudengine/internal/bootstrap"
	"github.com/stratuspay/fraudengine/internal/circuitbreaker"
	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/eventbus"
	"github.com/stratuspay/fraudengine/internal/evaluator"
	"github.com/stratuspay/fraudengine/internal/fields"
	"github.com/stratuspay/fraudengine/internal/infra"
	"github.com/stratuspay/fraudengine/internal/loader"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/outbox"
	"github.com/stratuspay/fraudengine/internal/registry"
	"github.com/stratuspay/fraudengine/internal/shedder"
	"github.com/stratuspay/fraudengine/internal/velocity"
	"github.com/stratuspay/fraudengine/internal/watcher"
)

// version is stamped into every published decision event.
var version = "1.4.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Engine] Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	rdb, err := infra.DialRedis(cfg.RedisURL)
	if err != nil {
		slog.Error("[Engine] Redis unavailable", "error", err)
		os.Exit(1)
	}

	store, err := loader.NewS3Store(ctx, loader.S3Config{
		Bucket:    cfg.RulesetBucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3EndpointURL,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		slog.Error("[Engine] Object store unavailable", "error", err)
		os.Exit(1)
	}

	live := &fields.Live{}
	artifacts := loader.New(store, live, cfg.RulesetPathPrefix, cfg.RulesetEnvironment)
	rulesets := registry.New(artifacts)

	m := metrics.New()
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("velocity"))
	vel := velocity.New(rdb, breaker, m, cfg.VelocityTimeout)

	producer, err := eventbus.NewKafkaProducer(cfg.KafkaBootstrapServers, cfg.KafkaDecisionTopic)
	if err != nil {
		slog.Error("[Engine] Kafka unavailable", "error", err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	meta := core.EngineMetadata{
		InstanceID:    cfg.OutboxConsumerName,
		EngineVersion: version,
		Hostname:      hostname,
	}

	queue := outbox.NewQueue(cfg.QueueCapacity, m)
	writer := outbox.NewWriter(queue, rdb, m, outbox.WriterConfig{
		Stream:  cfg.OutboxStreamKey,
		MaxLen:  cfg.OutboxMaxLen,
		Burst:   cfg.WriterBurst,
		Timeout: cfg.OutboxRedisTimeout,
	})
	publisher := outbox.NewPublisher(rdb, producer, vel, m, outbox.PublisherConfig{
		Stream:   cfg.OutboxStreamKey,
		Group:    cfg.OutboxConsumerGroup,
		Consumer: cfg.OutboxConsumerName,
		Meta:     meta,
	})
	reclaimer := outbox.NewReclaimer(rdb, publisher, m, outbox.ReclaimerConfig{
		Stream:   cfg.OutboxStreamKey,
		Group:    cfg.OutboxConsumerGroup,
		Consumer: cfg.OutboxConsumerName,
		MinIdle:  cfg.ReclaimMinIdle,
		Batch:    cfg.ReclaimBatch,
		Interval: cfg.ReclaimInterval,
	})

	ready := &atomic.Bool{}
	gate := &bootstrap.Gate{
		Fields:   artifacts,
		Live:     live,
		Rulesets: rulesets,
		Required: cfg.RequiredRulesets,
		Outbox:   publisher,
		Velocity: vel,
		Ready:    ready,
	}
	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	err = gate.Run(startCtx)
	cancelStart()
	if err != nil {
		slog.Error("[Engine] Startup gate failed", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(
		evaluator.New(rulesets, vel, m),
		queue,
		shedder.New(cfg.LoadShedEnabled, cfg.LoadShedMaxConcurrent),
		rulesets,
		vel,
		m,
		ready,
		api.Config{},
	)

	watch := watcher.New(artifacts, rulesets, live, m, cfg.RequiredRulesets, cfg.HotReloadInterval)

	// The writer gets its own stop point so the queue can be flushed after
	// request handling ends but before the publisher goes away.
	writerCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(writerCtx)
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		publisher.Run(workerCtx)
	}()
	reclaimDone := make(chan struct{})
	go func() {
		defer close(reclaimDone)
		reclaimer.Run(workerCtx)
	}()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watch.Run(workerCtx)
	}()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		<-sigChan
		slog.Info("[Engine] Shutdown signal received")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutCtx); err != nil {
			slog.Warn("[Engine] HTTP shutdown", "error", err)
		}

		// In-flight requests are done. Stop the writer loop and flush what
		// is still queued within the drain deadline; anything left past it
		// is counted as a shutdown drop.
		stopWriter()
		<-writerDone
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		writer.Drain(drainCtx)
		cancelDrain()

		// The publisher finishes its current delivery and ack before
		// stopping; unacked entries stay pending for the next instance.
		stopWorkers()
		<-pubDone
		<-reclaimDone
		<-watchDone

		if err := producer.Close(); err != nil {
			slog.Warn("[Engine] Kafka close", "error", err)
		}
		if err := rdb.Close(); err != nil {
			slog.Warn("[Engine] Redis close", "error", err)
		}
		close(shutdownDone)
	}()

	slog.Info("[Engine] Serving", "addr", cfg.HTTPAddr, "instance", cfg.OutboxConsumerName, "version", version)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("[Engine] Server failed", "error", err)
		os.Exit(1)
	}

	<-shutdownDone
	slog.Info("[Engine] Stopped")
}
