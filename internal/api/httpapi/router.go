// Package httpapi exposes the relay core over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"os"

	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/BearBump/RelayBox/internal/services/relays"
	"github.com/BearBump/RelayBox/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"
)

type MatchService interface {
	Create(ctx context.Context, actor models.Actor, in matches.CreateInput) (*models.Match, error)
	List(ctx context.Context, actor models.Actor, status string) ([]*models.Match, error)
	Accept(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*models.Match, error)
	Reject(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*models.Match, error)
	UpdateStatus(ctx context.Context, actor models.Actor, matchID uuid.UUID, status string) (*models.Match, error)
	Pay(ctx context.Context, actor models.Actor, in matches.PayInput) (*matches.PayResult, error)
	ConfirmDelivery(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*matches.Delivery, error)
}

type RelayService interface {
	CreateRelay(ctx context.Context, actor models.Actor, in relays.CreateInput) (*relays.Relay, error)
	AcceptRelay(ctx context.Context, actor models.Actor, matchID uuid.UUID, transferCode string) (*models.Match, error)
	RelayHistory(ctx context.Context, actor models.Actor, packageID uuid.UUID) ([]relays.RelayRecord, error)
}

type TrackingService interface {
	AddCheckpoint(ctx context.Context, actor models.Actor, in tracking.CheckpointInput) (*models.TrackingEvent, error)
	GetTracking(ctx context.Context, actor models.Actor, packageID uuid.UUID) (*tracking.Tracking, error)
}

type TokenParser interface {
	Parse(token string) (models.Actor, error)
}

// PushServer holds a websocket for an authenticated user.
type PushServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error
}

type Options struct {
	Matches  MatchService
	Relays   RelayService
	Tracking TrackingService
	Auth     TokenParser

	// Optional.
	Push        PushServer
	Ready       func(ctx context.Context) error
	Metrics     http.Handler
	SwaggerPath string
	Log         *logger.Logger
}

type handler struct {
	matches  MatchService
	relays   RelayService
	tracking TrackingService
	push     PushServer
	log      *logger.Logger
}

func NewRouter(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	h := &handler{
		matches:  opts.Matches,
		relays:   opts.Relays,
		tracking: opts.Tracking,
		push:     opts.Push,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				log.Warn(r.Context(), "not ready", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.SwaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			if _, err := os.Stat(opts.SwaggerPath); err != nil {
				http.NotFound(w, r)
				return
			}
			http.ServeFile(w, r, opts.SwaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate(opts.Auth, log))

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.createMatch)
			r.Get("/", h.listMatches)
			r.Post("/{id}/accept", h.acceptMatch)
			r.Post("/{id}/reject", h.rejectMatch)
			r.Post("/{id}/status", h.updateMatchStatus)
			r.Post("/{id}/accept-relay", h.acceptRelay)
			r.Post("/{id}/confirm-delivery", h.confirmDelivery)
		})
		r.Route("/packages/{id}", func(r chi.Router) {
			r.Post("/create-relay", h.createRelay)
			r.Post("/checkpoints", h.addCheckpoint)
			r.Get("/tracking", h.getTracking)
			r.Get("/relay-history", h.relayHistory)
		})
		r.Post("/match-payments", h.pay)
		if h.push != nil {
			r.Get("/notifications/ws", h.notifications)
		}
	})

	return r
}
