package main

import (
	"context"
	"io"
	"time"

	"github.com/BearBump/RelayBox/config"
	"github.com/BearBump/RelayBox/internal/broker/kafka"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/cache"
	"github.com/BearBump/RelayBox/internal/cache/rediscache"
	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/integrations/payment/provider"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/BearBump/RelayBox/internal/services/outbox"
	"github.com/BearBump/RelayBox/internal/services/reconciler"
	"github.com/BearBump/RelayBox/internal/services/tracking"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/BearBump/RelayBox/internal/storage/pgstore"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// workerStore is what both loops need: transactional access for payment
// finalization and the outbox queue for the dispatcher.
type workerStore interface {
	storage.Store
	storage.OutboxQueue
}

type workerFactories struct {
	newStorage  func(ctx context.Context, cfg *config.Config) (repo workerStore, closeFn func(), err error)
	newProducer func(cfg *config.Config) outbox.Producer
	newCache    func(cfg *config.Config) cache.BytesCache
	newGateway  func(cfg *config.Config) (payment.Gateway, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (workerStore, func(), error) {
			st, err := pgstore.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) outbox.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(rediscache.Options{Addr: cfg.Redis.Addr()})
		},
		newGateway: func(cfg *config.Config) (payment.Gateway, error) {
			return provider.New(cfg.Payments)
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// RunRelayWorker drives the outbox dispatcher and the payment reconciler
// next to the operational HTTP server until ctx is cancelled.
func RunRelayWorker(ctx context.Context, cfg *config.Config, f workerFactories, log *logger.Logger, reg *prometheus.Registry) error {
	if log == nil {
		log = logger.Nop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	topic := cfg.Kafka.DomainEventsTopicName
	if topic == "" {
		topic = messages.TopicDomainEvents
	}
	rb := cfg.RelayBox

	pollInterval := seconds(rb.OutboxPollIntervalSeconds)
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := rb.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := rb.OutboxConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	lease := seconds(rb.OutboxLeaseSeconds)
	if lease <= 0 {
		lease = 60 * time.Second
	}
	cacheTTL := seconds(rb.TrackingCacheTTLSeconds)
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	repo, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	gateway, err := f.newGateway(cfg)
	if err != nil {
		return err
	}

	m := metrics.New(reg)

	producer := f.newProducer(cfg)
	if c, ok := producer.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	bytesCache := f.newCache(cfg)
	if c, ok := bytesCache.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	dispatcher := outbox.NewDispatcher(repo, producer, topic, log, m).
		WithSettings(pollInterval, batchSize, concurrency, lease).
		WithBackoff(outbox.BackoffConfig{
			Backoff1: seconds(rb.OutboxBackoff1Seconds),
			Backoff2: seconds(rb.OutboxBackoff2Seconds),
			Backoff3: seconds(rb.OutboxBackoff3Seconds),
			Backoff4: seconds(rb.OutboxBackoff4Seconds),
		})

	// finalized payments move matches and packages: drop the cached tracking views
	trk := tracking.New(repo, bytesCache, cacheTTL).WithLogger(log)
	ms := matches.New(repo, gateway, trk, matches.Options{
		RequirePaymentBeforeTransit: !rb.AllowTransitWithoutPayment,
		Currency:                    cfg.Payments.Currency,
	}).WithLogger(log).WithMetrics(m)

	rec := reconciler.New(repo, gateway, ms, log, m).
		WithSettings(seconds(rb.ReconcileIntervalSeconds), seconds(rb.ReconcileStaleAfterSeconds), rb.ReconcileBatchSize, concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:   rb.WorkerHTTPAddr,
			dispatcher: dispatcher,
			reconciler: rec,
			registry:   reg,
			cfg:        cfg,
			log:        log,
		})
	})
	return g.Wait()
}
