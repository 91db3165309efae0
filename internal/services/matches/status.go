package matches

import (
	"context"
	"errors"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
)

// UpdateStatus moves a match along the delivery lifecycle on behalf of its carrier.
// Repeating the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, actor models.Actor, matchID uuid.UUID, raw string) (*models.Match, error) {
	target, err := models.ParseStatusUpdate(raw)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	var (
		out     *models.Match
		changed bool
	)
	err = s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.CarrierID != actor.UserID {
			return apperr.Forbidden("only the carrier can update this match")
		}
		out = m
		if m.Status == target {
			return nil
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		if !m.Status.Advanceable() && !(target == models.MatchStatusCancelled && m.Status == models.MatchStatusAwaitingTransfer) {
			return apperr.InvalidStatef("cannot move match from %s to %s", m.Status, target)
		}
		if target != models.MatchStatusCancelled {
			switch {
			case m.IsRelaySegment && m.Status == models.MatchStatusPending:
				return apperr.InvalidState("relay segments are accepted through accept-relay")
			case m.Status == models.MatchStatusPending && target != models.MatchStatusAcceptedByCarrier:
				return apperr.InvalidStatef("match must be accepted before %s", target)
			}
			if err := s.takeHold(ctx, tx, m, pkg); err != nil {
				return err
			}
		}
		if target == models.MatchStatusInProgress && s.opts.RequirePaymentBeforeTransit {
			paid, err := tx.HasCompletedPayment(ctx, pkg.ID)
			if err != nil {
				return apperr.Internal(err)
			}
			if !paid {
				return apperr.InvalidState("payment required before transit")
			}
		}
		changed = true

		if target == models.MatchStatusCancelled {
			return s.cancel(ctx, tx, actor, m, pkg)
		}

		prev := m.Status
		m.Status = target
		m.UpdatedAt = s.now()
		if target != models.MatchStatusPending && m.AcceptedAt == nil {
			at := m.UpdatedAt
			m.AcceptedAt = &at
		}
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return access.StoreError(err, "match")
		}
		if err := s.syncPackage(ctx, tx, pkg, m); err != nil {
			return err
		}

		if target == models.MatchStatusCompleted {
			return s.complete(ctx, tx, actor, m, pkg, prev)
		}
		if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusActive); err != nil {
			return access.StoreError(err, "ride")
		}
		return emitMatch(ctx, tx, messages.EventMatchStatusChanged, actor.UserID, m, pkg, prev)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.changed(ctx, out)
	}
	return out, nil
}

// complete closes the ride and records the platform payment if the match was never paid.
func (s *Service) complete(ctx context.Context, tx storage.Repository, actor models.Actor, m *models.Match, pkg *models.Package, prev models.MatchStatus) error {
	if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusCompleted); err != nil {
		return access.StoreError(err, "ride")
	}
	_, err := tx.GetPaymentByMatch(ctx, m.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		now := s.now()
		pay := &models.Payment{
			ID:            uuid.New(),
			MatchID:       m.ID,
			UserID:        pkg.SenderID,
			Amount:        m.Price,
			Currency:      s.opts.Currency,
			Status:        models.PaymentStatusCompleted,
			PaymentMethod: models.PaymentMethodPlatform,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreatePayment(ctx, pay); err != nil {
			return access.StoreError(err, "payment")
		}
	case err != nil:
		return apperr.Internal(err)
	}
	if err := s.dropOpenOffers(ctx, tx, actor, m, pkg); err != nil {
		return err
	}
	return emitMatch(ctx, tx, messages.EventMatchDelivered, actor.UserID, m, pkg, prev)
}

// dropOpenOffers cancels the PENDING matches left on a delivered package.
func (s *Service) dropOpenOffers(ctx context.Context, tx storage.Repository, actor models.Actor, delivered *models.Match, pkg *models.Package) error {
	list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	for _, o := range list {
		if o.ID == delivered.ID || o.Status != models.MatchStatusPending {
			continue
		}
		o.Status = models.MatchStatusCancelled
		o.UpdatedAt = s.now()
		if err := tx.UpdateMatch(ctx, o); err != nil {
			return access.StoreError(err, "match")
		}
		if err := s.cancelRide(ctx, tx, o.RideID); err != nil {
			return err
		}
		if err := emitMatch(ctx, tx, messages.EventMatchCancelled, actor.UserID, o, pkg, models.MatchStatusPending); err != nil {
			return err
		}
	}
	return nil
}

// cancel marks the match CANCELLED and repairs the package. A pending relay
// segment hands the package back to the previous carrier; any other match
// releases the package and drops the relay segments that were waiting on it.
func (s *Service) cancel(ctx context.Context, tx storage.Repository, actor models.Actor, m *models.Match, pkg *models.Package) error {
	prev := m.Status
	m.Status = models.MatchStatusCancelled
	m.UpdatedAt = s.now()
	if err := tx.UpdateMatch(ctx, m); err != nil {
		return access.StoreError(err, "match")
	}

	list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
	if err != nil {
		return apperr.Internal(err)
	}

	restored := false
	if m.IsRelaySegment && prev == models.MatchStatusPending {
		for _, p := range list {
			if p.SegmentOrder != m.SegmentOrder-1 || p.Status != models.MatchStatusAwaitingTransfer {
				continue
			}
			resume, err := s.resumeStatus(ctx, tx, p, pkg)
			if err != nil {
				return err
			}
			p.Status = resume
			p.ResumeStatus = ""
			p.IsPartialDelivery = false
			p.DropoffLocation = nil
			p.UpdatedAt = m.UpdatedAt
			if err := tx.UpdateMatch(ctx, p); err != nil {
				return access.StoreError(err, "match")
			}
			pkg.SegmentNumber = p.SegmentOrder
			if err := s.syncPackage(ctx, tx, pkg, p); err != nil {
				return err
			}
			restored = true
			break
		}
		if err := s.cancelRide(ctx, tx, m.RideID); err != nil {
			return err
		}
	}

	if !restored {
		// an offer that never held the package has no downstream legs
		for _, d := range list {
			if m.AcceptedAt == nil {
				break
			}
			if d.ID == m.ID || !d.IsRelaySegment || d.SegmentOrder <= m.SegmentOrder || d.Status != models.MatchStatusPending {
				continue
			}
			d.Status = models.MatchStatusCancelled
			d.UpdatedAt = m.UpdatedAt
			if err := tx.UpdateMatch(ctx, d); err != nil {
				return access.StoreError(err, "match")
			}
			if err := s.cancelRide(ctx, tx, d.RideID); err != nil {
				return err
			}
		}
		if access.OtherHolder(list, m.ID) == nil {
			if err := s.syncPackage(ctx, tx, pkg, m); err != nil {
				return err
			}
		}
	}

	return emitMatch(ctx, tx, messages.EventMatchCancelled, actor.UserID, m, pkg, prev)
}

// resumeStatus is where a predecessor goes back to when its relay falls
// through. Rows written before the status was recorded fall back on the
// payment: only a paid match may resume transit.
func (s *Service) resumeStatus(ctx context.Context, tx storage.Repository, p *models.Match, pkg *models.Package) (models.MatchStatus, error) {
	if p.ResumeStatus.IsActive() {
		return p.ResumeStatus, nil
	}
	paid, err := tx.HasCompletedPayment(ctx, pkg.ID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if paid || !s.opts.RequirePaymentBeforeTransit {
		return models.MatchStatusInProgress, nil
	}
	return models.MatchStatusConfirmed, nil
}
