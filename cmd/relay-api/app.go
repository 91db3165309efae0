package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/RelayBox/internal/broker/kafka"
	"github.com/BearBump/RelayBox/internal/logger"
)

type relayAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

// runRelayAPI serves the HTTP API and feeds domain events from Kafka into
// the notifier until ctx is cancelled.
func runRelayAPI(ctx context.Context, opts relayAPIOpts, router http.Handler, consumer kafkaConsumer, handle kafka.Handler, log *logger.Logger) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}
	if log == nil {
		log = logger.Nop()
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- serveHTTP(ctx, lis, router, log)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		log.Info(log.WithFields(ctx, map[string]any{"topic": opts.topic, "group": opts.consumerGroup}), "kafka consumer started")
		consumerErr <- consumer.Consume(ctx, handle)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if err == nil {
			return ctx.Err()
		}
		return err
	case err := <-consumerErr:
		if err == nil {
			return ctx.Err()
		}
		return err
	}
}

func serveHTTP(ctx context.Context, lis net.Listener, router http.Handler, log *logger.Logger) error {
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(log.WithField(ctx, "addr", lis.Addr().String()), "HTTP server listening")
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
