package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/order-service/internal/order/application"
	"github.com/dmehra2102/order-service/internal/order/domain"
	orderhttp "github.com/dmehra2102/order-service/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/order-service/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/order-service/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-service/pkg/broker"
	"github.com/dmehra2102/order-service/pkg/idempotency"
	"github.com/dmehra2102/order-service/pkg/logging"
	"github.com/dmehra2102/order-service/pkg/metrics"
	"github.com/dmehra2102/order-service/pkg/outbox"
	"github.com/dmehra2102/order-service/pkg/schedule"
	"github.com/dmehra2102/order-service/pkg/shutdown"
	"github.com/dmehra2102/order-service/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("order-service failed", "err", err)
		os.Exit(1)
	}
	log.Info("order-service shutdown complete")
}

func run(cfg Config, log *slog.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	var closers shutdown.Stack
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := closers.Close(closeCtx); err != nil {
			log.Error("shutdown incomplete", "err", err)
		}
	}()

	tp, err := tracing.Init(ctx, "order-service", cfg.OtelEndpoint, log)
	if err != nil {
		return err
	}
	closers.Push("tracer", tp.Shutdown)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, "api")
	lifecycle := metrics.NewLifecycle(reg)

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return fmt.Errorf("pg connect: %w", err)
	}
	closers.Push("postgres", func(context.Context) error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pg ping: %w", err)
	}
	if err := orderpg.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	closers.Push("redis", func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable, duplicate deliveries will be processed", "addr", cfg.RedisAddr, "err", err)
	}

	// Kafka
	if err := orderkafka.Connect(ctx, log, cfg.KafkaBrokers); err != nil {
		return fmt.Errorf("kafka connect: %w", err)
	}
	topics := append([]string{cfg.TopicOrderCreated, cfg.TopicOrderCancelled}, orderkafka.CommandTopics...)
	if err := orderkafka.EnsureTopics(ctx, cfg.KafkaBrokers, 3, topics...); err != nil {
		log.Warn("ensure topics failed", "err", err)
	}
	kpub := orderkafka.NewPublisher(log, orderkafka.NewWriter(cfg.KafkaBrokers),
		orderkafka.WithMaxElapsed(cfg.PublishMaxElapsed),
		orderkafka.WithRecorder(lifecycle),
	)
	closers.Push("kafka writer", func(context.Context) error { return kpub.Close() })

	var (
		wg  sync.WaitGroup
		pub broker.Publisher = kpub
	)
	if cfg.EventDelivery == DeliveryOutbox {
		store := orderpg.NewOutboxStore(log, pool)
		pub = outbox.NewPublisher(store)
		relay := outbox.NewRelay(log, store, outbox.NewDispatcher(log, kpub), relayID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped with error", "err", err)
			}
		}()
	}
	log.Info("event delivery configured", "mode", cfg.EventDelivery)

	svc := application.NewService(log, orderpg.NewRepository(log, pool), orderpg.NewSequence(pool), pub,
		application.WithRecorder(lifecycleRecorder{lifecycle}),
		application.WithTopics(application.Topics{
			OrderCreated:   cfg.TopicOrderCreated,
			OrderCancelled: cfg.TopicOrderCancelled,
		}),
		application.WithSweepMinAge(cfg.SweepMinAge),
	)

	sweeper := application.NewSweeper(log, svc, schedule.NewTicker(cfg.SweepInterval), cfg.SweepInterval)
	consumer := orderkafka.NewConsumer(log,
		orderkafka.NewReader(cfg.KafkaBrokers, cfg.ConsumerGroup),
		svc,
		idempotency.NewStore(rdb, idempotency.DefaultTTL),
		kpub,
	)

	fatal := shutdown.NewFatal(cancel)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped with error", "err", err)
			fatal.Fail("consumer", err)
		}
	}()

	// HTTP
	r := chi.NewRouter()
	r.Use(serverMetrics.Middleware)
	r.Get("/healthz", orderhttp.Health)
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/", orderhttp.NewHandler(log, svc, cfg.RequestTimeout).Routes())
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal.Fail("http server", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	wg.Wait()

	return fatal.Err()
}

type lifecycleRecorder struct {
	m *metrics.Lifecycle
}

func (r lifecycleRecorder) Transition(to domain.Status, n int) {
	r.m.Transition(to.String(), n)
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "order-service-relay"
	}
	return "order-service-relay-" + host
}
