package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/RelayBox/config"
	"github.com/BearBump/RelayBox/internal/api/httpapi"
	"github.com/BearBump/RelayBox/internal/auth"
	"github.com/BearBump/RelayBox/internal/broker/kafka"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/cache/rediscache"
	"github.com/BearBump/RelayBox/internal/integrations/notify"
	"github.com/BearBump/RelayBox/internal/integrations/notify/webhook"
	"github.com/BearBump/RelayBox/internal/integrations/notify/wspush"
	"github.com/BearBump/RelayBox/internal/integrations/payment/provider"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/BearBump/RelayBox/internal/services/notifier"
	"github.com/BearBump/RelayBox/internal/services/relays"
	"github.com/BearBump/RelayBox/internal/services/tracking"
	"github.com/BearBump/RelayBox/internal/storage/pgstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type relayAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     relayAPIOpts
	log      *logger.Logger
	router   http.Handler
	consumer *kafka.Consumer
	notifier *notifier.Handler
	closers  []func()
}

func mustBootstrapRelayAPI() *relayAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	log := logger.New(logger.Options{
		ServiceName: "relay-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	httpAddr := cfg.RelayBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.RelayBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "relay-api"
	}
	topic := cfg.Kafka.DomainEventsTopicName
	if topic == "" {
		topic = messages.TopicDomainEvents
	}
	cacheTTL := time.Duration(cfg.RelayBox.TrackingCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	checkpointLimit := cfg.RelayBox.CheckpointRateLimitPerMinute
	if checkpointLimit <= 0 {
		checkpointLimit = 30
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	st := mustOpenPostgresWithRetry(ctx, cfg.Database.ConnString(), 60*time.Second)
	rc := rediscache.New(rediscache.Options{Addr: cfg.Redis.Addr()})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gateway, err := provider.New(cfg.Payments)
	if err != nil {
		panic(err)
	}

	trk := tracking.New(st, rc, cacheTTL).
		WithRateLimit(rediscache.NewRateLimiter(rc.Client()), checkpointLimit).
		WithLogger(log)
	ms := matches.New(st, gateway, trk, matches.Options{
		RequirePaymentBeforeTransit: !cfg.RelayBox.AllowTransitWithoutPayment,
		Currency:                    cfg.Payments.Currency,
	}).WithLogger(log).WithMetrics(m)
	rs := relays.New(st, trk, relays.Options{RequireTransferCode: cfg.RelayBox.RequireTransferCode}).
		WithLogger(log).WithMetrics(m)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		panic(err)
	}

	hub := wspush.NewHub(log)
	senders := notify.Fanout{notify.LogSender{Log: log}, hub}
	if cfg.Notifications.WebhookURL != "" {
		wh, err := webhook.New(cfg.Notifications.WebhookURL, cfg.Notifications.WebhookToken)
		if err != nil {
			panic(err)
		}
		senders = append(senders, wh)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Matches:  ms,
		Relays:   rs,
		Tracking: trk,
		Auth:     verifier,
		Push:     hub,
		Ready: func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return err
			}
			return rc.Ping(ctx)
		},
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		SwaggerPath: swaggerPath,
		Log:         log,
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)

	return &relayAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: relayAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		log:      log,
		router:   router,
		consumer: consumer,
		notifier: notifier.NewHandler(senders, log, m),
		closers:  []func(){st.Close, func() { _ = rc.Close() }},
	}
}

func mustOpenPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(ctx, connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *relayAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *relayAPIApp) Run() error {
	return runRelayAPI(a.ctx, a.opts, a.router, a.consumer, a.notifier.Handle, a.log)
}
