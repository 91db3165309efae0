// Package tracking owns the append-only tracking log and the derived
// tracking view of a package.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/cache"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/services/outbox"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Service struct {
	store storage.Store
	cache cache.BytesCache
	ttl   time.Duration

	limiter         cache.RateLimiter
	checkpointLimit int64

	log *logger.Logger
	now func() time.Time
}

func New(store storage.Store, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{
		store: store,
		cache: c,
		ttl:   ttl,
		log:   logger.Nop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithRateLimit caps checkpoints per carrier per minute. perMinute <= 0 disables it.
func (s *Service) WithRateLimit(l cache.RateLimiter, perMinute int) *Service {
	s.limiter = l
	s.checkpointLimit = int64(perMinute)
	return s
}

func (s *Service) WithLogger(l *logger.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

type CheckpointInput struct {
	PackageID uuid.UUID
	Location  string
	Notes     *string
	Lat       *float64
	Lng       *float64
}

// AddCheckpoint records where the carrier holding the package is now.
// The package status is left as is.
func (s *Service) AddCheckpoint(ctx context.Context, actor models.Actor, in CheckpointInput) (*models.TrackingEvent, error) {
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, apperr.Validation("location is required")
	}
	if in.Lat != nil && (*in.Lat < -90 || *in.Lat > 90) {
		return nil, apperr.Validation("lat must be between -90 and 90")
	}
	if in.Lng != nil && (*in.Lng < -180 || *in.Lng > 180) {
		return nil, apperr.Validation("lng must be between -180 and 180")
	}
	if err := s.allowCheckpoint(ctx, actor.UserID); err != nil {
		return nil, err
	}

	var out *models.TrackingEvent
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		pkg, err := tx.LockPackage(ctx, in.PackageID)
		if err != nil {
			return access.StoreError(err, "package")
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		active := access.ActiveMatch(list)
		if active == nil || active.CarrierID != actor.UserID {
			return apperr.Forbidden("only the carrier holding the package can add checkpoints")
		}

		now := s.now()
		ev := &models.TrackingEvent{
			ID:        uuid.New(),
			PackageID: pkg.ID,
			CarrierID: actor.UserID,
			MatchID:   &active.ID,
			Location:  location,
			Lat:       in.Lat,
			Lng:       in.Lng,
			Notes:     in.Notes,
			Status:    string(pkg.Status),
			EventType: models.EventTypeCheckpoint,
			Timestamp: now,
		}
		if err := tx.AppendTrackingEvent(ctx, ev); err != nil {
			return errors.Wrap(err, "append checkpoint")
		}

		pkg.CurrentLocation = &location
		pkg.UpdatedAt = now
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return access.StoreError(err, "package")
		}

		if err := outbox.Emit(ctx, tx, messages.EventCheckpointAdded, pkg.ID, actor.UserID, messages.CheckpointEvent{
			EventID:   ev.ID,
			PackageID: pkg.ID,
			SenderID:  pkg.SenderID,
			CarrierID: actor.UserID,
			Location:  location,
			Lat:       in.Lat,
			Lng:       in.Lng,
			At:        now,
		}); err != nil {
			return err
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.InvalidatePackage(ctx, out.PackageID)
	return out, nil
}

// allowCheckpoint fails open when the limiter itself is unavailable.
func (s *Service) allowCheckpoint(ctx context.Context, carrierID uuid.UUID) error {
	if s.limiter == nil || s.checkpointLimit <= 0 {
		return nil
	}
	ok, _, err := s.limiter.Allow(ctx, "checkpoint:"+carrierID.String(), s.checkpointLimit, time.Minute)
	if err != nil {
		s.log.Warn(ctx, "checkpoint rate limiter unavailable", err)
		return nil
	}
	if !ok {
		return apperr.RateLimited("too many checkpoints, try again in a minute")
	}
	return nil
}

// snapshot is the cached part of the tracking view. Timeline and estimate
// depend on the clock and are computed on every read.
type snapshot struct {
	Package        *models.Package         `json:"package"`
	Matches        []*models.Match         `json:"matches"`
	Events         []*models.TrackingEvent `json:"events"`
	CurrentCarrier *CarrierRef             `json:"currentCarrier,omitempty"`
}

type CarrierRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Tracking struct {
	Package           *models.Package         `json:"package"`
	ActiveMatch       *models.Match           `json:"activeMatch,omitempty"`
	CurrentCarrier    *CarrierRef             `json:"currentCarrier,omitempty"`
	Timeline          []TimelineEntry         `json:"timeline"`
	Events            []*models.TrackingEvent `json:"events"`
	EstimatedDelivery *time.Time              `json:"estimatedDelivery"`
}

// GetTracking returns the tracking view. Packages the actor cannot see are reported as missing.
func (s *Service) GetTracking(ctx context.Context, actor models.Actor, packageID uuid.UUID) (*Tracking, error) {
	snap, err := s.load(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewPackage(actor, snap.Package, snap.Matches) {
		return nil, apperr.NotFound("package not found")
	}
	active := access.ActiveMatch(snap.Matches)
	events := snap.Events
	if events == nil {
		events = []*models.TrackingEvent{}
	}
	return &Tracking{
		Package:           snap.Package,
		ActiveMatch:       active,
		CurrentCarrier:    snap.CurrentCarrier,
		Timeline:          BuildTimeline(snap.Package, snap.Matches, events),
		Events:            events,
		EstimatedDelivery: EstimateDelivery(snap.Package, s.now()),
	}, nil
}

func (s *Service) load(ctx context.Context, packageID uuid.UUID) (*snapshot, error) {
	key := viewKey(packageID)
	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var snap snapshot
			if json.Unmarshal(b, &snap) == nil && snap.Package != nil {
				return &snap, nil
			}
		}
	}

	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, access.StoreError(err, "package")
	}
	list, err := s.store.ListMatchesByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	events, err := s.store.ListTrackingEvents(ctx, pkg.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	snap := &snapshot{Package: pkg, Matches: list, Events: events}
	if active := access.ActiveMatch(list); active != nil {
		ref := &CarrierRef{ID: active.CarrierID}
		if u, err := s.store.GetUser(ctx, active.CarrierID); err == nil {
			ref.Name = u.Name
		}
		snap.CurrentCarrier = ref
	}

	if s.cacheEnabled() {
		if b, err := json.Marshal(snap); err == nil {
			// кэш best-effort, ошибку только логируем
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				s.log.Warn(ctx, "tracking cache set failed", err)
			}
		}
	}
	return snap, nil
}

// InvalidatePackage drops the cached tracking view of a package.
func (s *Service) InvalidatePackage(ctx context.Context, packageID uuid.UUID) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, viewKey(packageID)); err != nil {
		s.log.Warn(ctx, "tracking cache invalidate failed", err)
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

func viewKey(packageID uuid.UUID) string {
	return fmt.Sprintf("tracking:%s:view", packageID)
}
