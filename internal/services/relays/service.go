// Package relays hands an in-flight package from one carrier to the next.
package relays

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/services/outbox"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

type Invalidator interface {
	InvalidatePackage(ctx context.Context, packageID uuid.UUID)
}

type Options struct {
	// RequireTransferCode makes AcceptRelay check the code recorded at handoff.
	RequireTransferCode bool
}

type Service struct {
	store storage.Store
	cache Invalidator
	opts  Options

	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store storage.Store, cache Invalidator, opts Options) *Service {
	return &Service{
		store: store,
		cache: cache,
		opts:  opts,
		log:   logger.Nop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithLogger(l *logger.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

type CreateInput struct {
	PackageID        uuid.UUID
	DropoffLocation  string
	NextCarrierID    uuid.UUID
	TransferCode     string
	EstimatedArrival *time.Time
	Notes            *string
}

type CarrierRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Relay describes a handoff just created.
type Relay struct {
	MatchID          uuid.UUID  `json:"matchId"`
	RideID           uuid.UUID  `json:"rideId"`
	PackageID        uuid.UUID  `json:"packageId"`
	DropoffLocation  string     `json:"dropoffLocation"`
	NextCarrier      CarrierRef `json:"nextCarrier"`
	TransferCode     string     `json:"transferCode"`
	EstimatedArrival *time.Time `json:"estimatedArrival,omitempty"`
	SegmentOrder     int        `json:"segmentOrder"`
}

// CreateRelay splits the active delivery at dropoff: the current match waits
// for transfer and a PENDING relay segment is offered to the next carrier.
func (s *Service) CreateRelay(ctx context.Context, actor models.Actor, in CreateInput) (*Relay, error) {
	dropoff := strings.TrimSpace(in.DropoffLocation)
	if dropoff == "" {
		return nil, apperr.Validation("dropoffLocation is required")
	}
	if in.NextCarrierID == uuid.Nil {
		return nil, apperr.Validation("nextCarrierId is required")
	}
	if in.NextCarrierID == actor.UserID {
		return nil, apperr.Validation("cannot hand a package over to yourself")
	}
	code := strings.ToUpper(strings.TrimSpace(in.TransferCode))
	if code == "" {
		var err error
		if code, err = newTransferCode(); err != nil {
			return nil, apperr.Internal(err)
		}
	} else if !codePattern.MatchString(code) {
		return nil, apperr.Validation("transferCode must be 4-12 letters or digits")
	}

	var out *Relay
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
		cur := access.ActiveMatch(list)
		if cur == nil || cur.CarrierID != actor.UserID {
			return apperr.Forbidden("only the carrier holding the package can create a relay")
		}
		next, err := tx.GetUser(ctx, in.NextCarrierID)
		if err != nil || next.Role != models.RoleCarrier {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return apperr.Internal(err)
			}
			return apperr.NotFound("next carrier not found")
		}

		now := s.now()
		cur.ResumeStatus = cur.Status
		cur.Status = models.MatchStatusAwaitingTransfer
		cur.IsPartialDelivery = true
		cur.DropoffLocation = &dropoff
		cur.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, cur); err != nil {
			return access.StoreError(err, "match")
		}

		departure := now
		if in.EstimatedArrival != nil {
			departure = in.EstimatedArrival.UTC()
		}
		ride := &models.Ride{
			ID:                uuid.New(),
			UserID:            next.ID,
			Origin:            dropoff,
			Destination:       pkg.Destination(),
			DepartureTime:     departure,
			Status:            models.RideStatusPending,
			AllowsRelayPickup: true,
			CreatedAt:         now,
		}
		if err := tx.CreateRide(ctx, ride); err != nil {
			return access.StoreError(err, "ride")
		}

		segment := &models.Match{
			ID:             uuid.New(),
			PackageID:      pkg.ID,
			RideID:         ride.ID,
			CarrierID:      next.ID,
			Status:         models.MatchStatusPending,
			Price:          decimal.Zero,
			IsRelaySegment: true,
			SegmentOrder:   max(cur.SegmentOrder, 1) + 1,
			Notes:          in.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateMatch(ctx, segment); err != nil {
			return access.StoreError(err, "match")
		}

		pkg.Status = models.PackageStatusAwaitingRelay
		pkg.CurrentLocation = &dropoff
		pkg.IsMultiSegment = true
		pkg.SegmentNumber = segment.SegmentOrder
		pkg.TotalSegments = max(pkg.TotalSegments, segment.SegmentOrder)
		pkg.UpdatedAt = now
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return access.StoreError(err, "package")
		}

		nextID := next.ID
		if err := tx.AppendTrackingEvent(ctx, &models.TrackingEvent{
			ID:            uuid.New(),
			PackageID:     pkg.ID,
			CarrierID:     actor.UserID,
			MatchID:       &segment.ID,
			Location:      dropoff,
			Notes:         in.Notes,
			Status:        string(pkg.Status),
			EventType:     models.EventTypeTransfer,
			Timestamp:     now,
			NextCarrierID: &nextID,
			TransferCode:  &code,
		}); err != nil {
			return errors.Wrap(err, "append transfer event")
		}

		if err := outbox.Emit(ctx, tx, messages.EventRelayCreated, pkg.ID, actor.UserID, messages.RelayEvent{
			MatchID:          segment.ID,
			PackageID:        pkg.ID,
			SenderID:         pkg.SenderID,
			FromCarrierID:    actor.UserID,
			ToCarrierID:      next.ID,
			ToCarrierName:    next.Name,
			Location:         dropoff,
			SegmentOrder:     segment.SegmentOrder,
			EstimatedArrival: in.EstimatedArrival,
		}); err != nil {
			return err
		}

		out = &Relay{
			MatchID:          segment.ID,
			RideID:           ride.ID,
			PackageID:        pkg.ID,
			DropoffLocation:  dropoff,
			NextCarrier:      CarrierRef{ID: next.ID, Name: next.Name},
			TransferCode:     code,
			EstimatedArrival: in.EstimatedArrival,
			SegmentOrder:     segment.SegmentOrder,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(models.MatchStatusAwaitingTransfer))
	s.invalidate(ctx, out.PackageID)
	return out, nil
}

// AcceptRelay is the next carrier picking the package up. The previous
// segment is completed and the relay segment becomes the active match.
func (s *Service) AcceptRelay(ctx context.Context, actor models.Actor, matchID uuid.UUID, transferCode string) (*models.Match, error) {
	var out *models.Match
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.CarrierID != actor.UserID {
			return apperr.Forbidden("relay is offered to another carrier")
		}
		if !m.IsRelaySegment {
			return apperr.InvalidState("not a relay segment")
		}
		if m.Status != models.MatchStatusPending {
			return apperr.InvalidStatef("relay segment is %s", m.Status)
		}

		events, err := tx.ListTrackingEvents(ctx, pkg.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		transfer := lastTransfer(events, m.ID)
		if s.opts.RequireTransferCode && !codeMatches(transfer, transferCode) {
			return apperr.Forbidden("invalid transfer code")
		}

		list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		if access.OtherActive(list, m.ID) != nil {
			return apperr.InvalidState("package already has an active match")
		}

		now := s.now()
		var from uuid.UUID
		if transfer != nil {
			from = transfer.CarrierID
		}
		for _, p := range list {
			if p.SegmentOrder != m.SegmentOrder-1 || p.Status != models.MatchStatusAwaitingTransfer {
				continue
			}
			p.Status = models.MatchStatusCompleted
			p.ResumeStatus = ""
			p.UpdatedAt = now
			if err := tx.UpdateMatch(ctx, p); err != nil {
				return access.StoreError(err, "match")
			}
			if err := tx.UpdateRideStatus(ctx, p.RideID, models.RideStatusCompleted); err != nil {
				return access.StoreError(err, "ride")
			}
			if from == uuid.Nil {
				from = p.CarrierID
			}
		}

		m.Status = models.MatchStatusConfirmed
		m.AcceptedAt = &now
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return access.StoreError(err, "match")
		}
		if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusActive); err != nil {
			return access.StoreError(err, "ride")
		}

		ps, err := models.PackageStatusFor(m.Status, true)
		if err != nil {
			return apperr.Internal(err)
		}
		pkg.Status = ps
		pkg.UpdatedAt = now
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return access.StoreError(err, "package")
		}

		location := ""
		switch {
		case pkg.CurrentLocation != nil:
			location = *pkg.CurrentLocation
		case transfer != nil:
			location = transfer.Location
		}
		if err := tx.AppendTrackingEvent(ctx, &models.TrackingEvent{
			ID:        uuid.New(),
			PackageID: pkg.ID,
			CarrierID: actor.UserID,
			MatchID:   &m.ID,
			Location:  location,
			Status:    string(pkg.Status),
			EventType: models.EventTypePickup,
			Timestamp: now,
		}); err != nil {
			return errors.Wrap(err, "append pickup event")
		}

		if err := outbox.Emit(ctx, tx, messages.EventRelayAccepted, pkg.ID, actor.UserID, messages.RelayEvent{
			MatchID:       m.ID,
			PackageID:     pkg.ID,
			SenderID:      pkg.SenderID,
			FromCarrierID: from,
			ToCarrierID:   actor.UserID,
			Location:      location,
			SegmentOrder:  m.SegmentOrder,
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(out.Status))
	s.invalidate(ctx, out.PackageID)
	return out, nil
}

// RelayRecord is one handoff joined with the current state of its segment.
type RelayRecord struct {
	EventID       uuid.UUID  `json:"eventId"`
	MatchID       *uuid.UUID `json:"matchId,omitempty"`
	SegmentOrder  int        `json:"segmentOrder"`
	FromCarrierID uuid.UUID  `json:"fromCarrierId"`
	ToCarrierID   *uuid.UUID `json:"toCarrierId,omitempty"`
	Location      string     `json:"location"`
	Notes         *string    `json:"notes,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	MatchStatus   string     `json:"matchStatus,omitempty"`
	TransferCode  *string    `json:"transferCode,omitempty"`
}

// RelayHistory lists the package's handoffs by segment order. Transfer codes
// are only shown to the carrier who issued them and to admins.
func (s *Service) RelayHistory(ctx context.Context, actor models.Actor, packageID uuid.UUID) ([]RelayRecord, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, access.StoreError(err, "package")
	}
	list, err := s.store.ListMatchesByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !access.CanViewPackage(actor, pkg, list) {
		return nil, apperr.NotFound("package not found")
	}
	events, err := s.store.ListTrackingEvents(ctx, pkg.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	byID := make(map[uuid.UUID]*models.Match, len(list))
	for _, m := range list {
		byID[m.ID] = m
	}

	out := make([]RelayRecord, 0)
	for _, e := range events {
		if e.EventType != models.EventTypeTransfer {
			continue
		}
		rec := RelayRecord{
			EventID:       e.ID,
			MatchID:       e.MatchID,
			FromCarrierID: e.CarrierID,
			ToCarrierID:   e.NextCarrierID,
			Location:      e.Location,
			Notes:         e.Notes,
			Timestamp:     e.Timestamp,
		}
		if e.MatchID != nil {
			if m, ok := byID[*e.MatchID]; ok {
				rec.SegmentOrder = m.SegmentOrder
				rec.MatchStatus = string(m.Status)
			}
		}
		if actor.IsAdmin() || actor.UserID == e.CarrierID {
			rec.TransferCode = e.TransferCode
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SegmentOrder != out[j].SegmentOrder {
			return out[i].SegmentOrder < out[j].SegmentOrder
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, packageID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidatePackage(ctx, packageID)
	}
}

func lastTransfer(events []*models.TrackingEvent, matchID uuid.UUID) *models.TrackingEvent {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.EventType == models.EventTypeTransfer && e.MatchID != nil && *e.MatchID == matchID {
			return e
		}
	}
	return nil
}

func codeMatches(transfer *models.TrackingEvent, code string) bool {
	if transfer == nil || transfer.TransferCode == nil {
		return false
	}
	got := strings.ToUpper(strings.TrimSpace(code))
	return subtle.ConstantTimeCompare([]byte(got), []byte(*transfer.TransferCode)) == 1
}

func newTransferCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate transfer code")
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
