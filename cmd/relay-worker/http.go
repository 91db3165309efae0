package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/RelayBox/config"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/services/outbox"
	"github.com/BearBump/RelayBox/internal/services/reconciler"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	dispatcher *outbox.Dispatcher
	reconciler *reconciler.Reconciler
	registry   *prometheus.Registry
	cfg        *config.Config
	log        *logger.Logger
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]any{}
		if opts.dispatcher != nil {
			out["outbox"] = opts.dispatcher.Stats()
		}
		if opts.reconciler != nil {
			out["reconciler"] = opts.reconciler.Stats()
		}
		writeJSON(w, out)
	})

	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, map[string]string{"error": "config not wired"})
			return
		}
		rb := opts.cfg.RelayBox
		// только рабочие настройки, без секретов
		writeJSON(w, map[string]any{
			"outboxPollIntervalSeconds":  rb.OutboxPollIntervalSeconds,
			"outboxBatchSize":            rb.OutboxBatchSize,
			"outboxConcurrency":          rb.OutboxConcurrency,
			"outboxLeaseSeconds":         rb.OutboxLeaseSeconds,
			"outboxBackoffSeconds":       []int{rb.OutboxBackoff1Seconds, rb.OutboxBackoff2Seconds, rb.OutboxBackoff3Seconds, rb.OutboxBackoff4Seconds},
			"reconcileIntervalSeconds":   rb.ReconcileIntervalSeconds,
			"reconcileStaleAfterSeconds": rb.ReconcileStaleAfterSeconds,
			"reconcileBatchSize":         rb.ReconcileBatchSize,
			"paymentProvider":            opts.cfg.Payments.Provider,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, _ *http.Request) {
		if opts.dispatcher != nil {
			opts.dispatcher.Trigger()
		}
		if opts.reconciler != nil {
			opts.reconciler.Trigger()
		}
		writeJSON(w, map[string]bool{"triggered": true})
	})

	if opts.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.registry, promhttp.HandlerOpts{}))
	}
	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.log == nil {
		opts.log = logger.Nop()
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	opts.log.Info(opts.log.WithField(ctx, "addr", lis.Addr().String()), "worker HTTP listening")
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
