// Package matches runs the match lifecycle: proposal, acceptance, delivery
// progress, payment and confirmation. Every state change commits together
// with its outbox events.
package matches

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/services/outbox"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invalidator drops cached read models of a package after it changed.
type Invalidator interface {
	InvalidatePackage(ctx context.Context, packageID uuid.UUID)
}

type Options struct {
	// RequirePaymentBeforeTransit blocks IN_PROGRESS until the package is paid.
	RequirePaymentBeforeTransit bool
	Currency                    string
}

func DefaultOptions() Options {
	return Options{RequirePaymentBeforeTransit: true, Currency: "usd"}
}

type Service struct {
	store   storage.Store
	gateway payment.Gateway
	cache   Invalidator
	opts    Options

	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store storage.Store, gateway payment.Gateway, cache Invalidator, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = DefaultOptions().Currency
	}
	return &Service{
		store:   store,
		gateway: gateway,
		cache:   cache,
		opts:    opts,
		log:     logger.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
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
	PackageID uuid.UUID
	// RideID is optional; without it a ride is created for the carrier.
	RideID *uuid.UUID
	Price  *decimal.Decimal
}

// Create proposes a PENDING match between a package and a carrier's ride.
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.Match, error) {
	if actor.Role != models.RoleCarrier {
		return nil, apperr.Forbidden("only carriers can propose matches")
	}
	if in.Price != nil && in.Price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}

	var out *models.Match
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		pkg, err := tx.LockPackage(ctx, in.PackageID)
		if err != nil {
			return access.StoreError(err, "package")
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		if pkg.SenderID == actor.UserID {
			return apperr.Validation("cannot carry your own package")
		}

		now := s.now()
		var ride *models.Ride
		if in.RideID != nil {
			if ride, err = tx.GetRide(ctx, *in.RideID); err != nil {
				return access.StoreError(err, "ride")
			}
			if ride.UserID != actor.UserID {
				return apperr.Forbidden("ride belongs to another carrier")
			}
			if ride.Status == models.RideStatusCancelled || ride.Status == models.RideStatusCompleted {
				return apperr.InvalidStatef("ride is %s", ride.Status)
			}
		} else {
			ride = &models.Ride{
				ID:            uuid.New(),
				UserID:        actor.UserID,
				Origin:        pkg.SenderAddress,
				Destination:   pkg.Destination(),
				DepartureTime: now,
				Status:        models.RideStatusPending,
				CreatedAt:     now,
			}
			if err := tx.CreateRide(ctx, ride); err != nil {
				return access.StoreError(err, "ride")
			}
		}

		price := pkg.Price
		if in.Price != nil {
			price = *in.Price
		}
		list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		m := &models.Match{
			ID:           uuid.New(),
			PackageID:    pkg.ID,
			RideID:       ride.ID,
			CarrierID:    actor.UserID,
			Status:       models.MatchStatusPending,
			Price:        price,
			SegmentOrder: access.NextSegmentOrder(list, uuid.Nil),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateMatch(ctx, m); err != nil {
			return access.StoreError(err, "match")
		}
		if err := emitMatch(ctx, tx, messages.EventMatchCreated, actor.UserID, m, pkg, ""); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, out)
	return out, nil
}

// List returns matches visible to the actor: carriers see theirs, senders
// see matches on their packages, admins see everything.
func (s *Service) List(ctx context.Context, actor models.Actor, status string) ([]*models.Match, error) {
	var f models.MatchFilter
	if status = strings.TrimSpace(status); status != "" {
		st := models.MatchStatus(strings.ToUpper(status))
		if !st.IsValid() {
			return nil, apperr.Validationf("unknown match status %q", status)
		}
		f.Status = &st
	}
	switch {
	case actor.IsAdmin():
	case actor.Role == models.RoleCarrier:
		f.CarrierID = &actor.UserID
	default:
		f.SenderID = &actor.UserID
	}
	out, err := s.store.ListMatches(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// Accept is the carrier confirming a PENDING direct match.
func (s *Service) Accept(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*models.Match, error) {
	var out *models.Match
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.CarrierID != actor.UserID {
			return apperr.Forbidden("only the ride owner can accept this match")
		}
		if m.IsRelaySegment {
			return apperr.InvalidState("relay segments are accepted through accept-relay")
		}
		if m.Status != models.MatchStatusPending {
			return apperr.InvalidStatef("match is %s", m.Status)
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		if err := s.takeHold(ctx, tx, m, pkg); err != nil {
			return err
		}

		now := s.now()
		prev := m.Status
		m.Status = models.MatchStatusConfirmed
		m.AcceptedAt = &now
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return access.StoreError(err, "match")
		}
		if err := s.syncPackage(ctx, tx, pkg, m); err != nil {
			return err
		}
		if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusActive); err != nil {
			return access.StoreError(err, "ride")
		}

		if err := emitMatch(ctx, tx, messages.EventMatchAccepted, actor.UserID, m, pkg, prev); err != nil {
			return err
		}
		if m.Price.IsPositive() {
			if err := emitPayment(ctx, tx, messages.EventPaymentRequired, actor.UserID, &models.Payment{
				MatchID: m.ID, Amount: m.Price, Currency: s.opts.Currency, Status: models.PaymentStatusPending,
			}, m, pkg); err != nil {
				return err
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, out)
	return out, nil
}

// Reject cancels a PENDING match. The carrier, the package owner and admins may reject.
func (s *Service) Reject(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*models.Match, error) {
	var out *models.Match
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.CarrierID != actor.UserID && pkg.SenderID != actor.UserID && !actor.IsAdmin() {
			return apperr.Forbidden("not a party of this match")
		}
		if m.Status != models.MatchStatusPending {
			return apperr.InvalidStatef("only PENDING matches can be rejected, match is %s", m.Status)
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		if err := s.cancel(ctx, tx, actor, m, pkg); err != nil {
			return err
		}
		if err := s.cancelRide(ctx, tx, m.RideID); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, out)
	return out, nil
}

// takeHold checks that m may become the package's holder. The segment order
// is fixed the first time a match holds the package.
func (s *Service) takeHold(ctx context.Context, tx storage.Repository, m *models.Match, pkg *models.Package) error {
	list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if other := access.OtherHolder(list, m.ID); other != nil {
		return apperr.InvalidState("package already has an active match")
	}
	claimSegment(list, m, pkg)
	return nil
}

func claimSegment(list []*models.Match, m *models.Match, pkg *models.Package) {
	if m.AcceptedAt != nil {
		return
	}
	m.SegmentOrder = access.NextSegmentOrder(list, m.ID)
	pkg.SegmentNumber = m.SegmentOrder
	pkg.TotalSegments = max(pkg.TotalSegments, m.SegmentOrder)
}

// syncPackage moves the package to the status implied by the match.
func (s *Service) syncPackage(ctx context.Context, tx storage.Repository, pkg *models.Package, m *models.Match) error {
	ps, err := models.PackageStatusFor(m.Status, m.IsRelaySegment)
	if err != nil {
		return apperr.Internal(err)
	}
	return s.setPackageStatus(ctx, tx, pkg, ps)
}

func (s *Service) setPackageStatus(ctx context.Context, tx storage.Repository, pkg *models.Package, ps models.PackageStatus) error {
	pkg.Status = ps
	pkg.UpdatedAt = s.now()
	if err := tx.UpdatePackage(ctx, pkg); err != nil {
		return access.StoreError(err, "package")
	}
	return nil
}

func (s *Service) cancelRide(ctx context.Context, tx storage.Repository, rideID uuid.UUID) error {
	ride, err := tx.GetRide(ctx, rideID)
	if err != nil {
		return access.StoreError(err, "ride")
	}
	if ride.Status == models.RideStatusCompleted || ride.Status == models.RideStatusCancelled {
		return nil
	}
	if err := tx.UpdateRideStatus(ctx, rideID, models.RideStatusCancelled); err != nil {
		return access.StoreError(err, "ride")
	}
	return nil
}

// changed runs after commit.
func (s *Service) changed(ctx context.Context, m *models.Match) {
	if m == nil {
		return
	}
	s.metrics.IncTransition(string(m.Status))
	if s.cache != nil {
		s.cache.InvalidatePackage(ctx, m.PackageID)
	}
}

func emitMatch(ctx context.Context, tx storage.Repository, eventType string, actorID uuid.UUID, m *models.Match, pkg *models.Package, prev models.MatchStatus) error {
	return outbox.Emit(ctx, tx, eventType, pkg.ID, actorID, messages.MatchEvent{
		MatchID:        m.ID,
		PackageID:      pkg.ID,
		SenderID:       pkg.SenderID,
		CarrierID:      m.CarrierID,
		Status:         string(m.Status),
		PreviousStatus: string(prev),
		Price:          m.Price,
		IsRelaySegment: m.IsRelaySegment,
	})
}

func emitPayment(ctx context.Context, tx storage.Repository, eventType string, actorID uuid.UUID, p *models.Payment, m *models.Match, pkg *models.Package) error {
	return outbox.Emit(ctx, tx, eventType, pkg.ID, actorID, messages.PaymentEvent{
		PaymentID:     p.ID,
		MatchID:       m.ID,
		PackageID:     pkg.ID,
		SenderID:      pkg.SenderID,
		CarrierID:     m.CarrierID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
	})
}
