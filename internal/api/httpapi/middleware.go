package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

func actorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(models.Actor)
	return a, ok
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := log.WithFields(r.Context(), map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Debug(log.WithFields(ctx, map[string]any{
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}), "request.complete")
		})
	}
}

// authenticate accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on a websocket handshake, so access_token in the query is also read.
func authenticate(parser TokenParser, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r.Header.Get("Authorization"))
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("access_token"))
			}
			if token == "" {
				writeError(r.Context(), log, w, apperr.Unauthorized("missing credentials"))
				return
			}
			actor, err := parser.Parse(token)
			if err != nil {
				log.Debug(log.WithField(r.Context(), "reason", err.Error()), "token rejected")
				writeError(r.Context(), log, w, apperr.Unauthorized("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, actor)
			ctx = log.WithFields(ctx, map[string]any{
				"user_id":    actor.UserID.String(),
				"actor_role": string(actor.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
