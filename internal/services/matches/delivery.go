package matches

import (
	"context"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
)

type Delivery struct {
	Match   *models.Match   `json:"match"`
	Package *models.Package `json:"package"`
}

// ConfirmDelivery is the sender acknowledging receipt of a paid package.
// Confirming an already delivered package returns it unchanged.
func (s *Service) ConfirmDelivery(ctx context.Context, actor models.Actor, matchID uuid.UUID) (*Delivery, error) {
	var (
		out     *Delivery
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if pkg.SenderID != actor.UserID {
			return apperr.Forbidden("only the package owner can confirm delivery")
		}
		paid, err := tx.HasCompletedPayment(ctx, pkg.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		if !paid {
			return apperr.InvalidState("package must be paid before delivery is confirmed")
		}
		switch m.Status {
		case models.MatchStatusCancelled, models.MatchStatusPending, models.MatchStatusAwaitingTransfer:
			return apperr.InvalidStatef("cannot confirm delivery of a %s match", m.Status)
		}
		out = &Delivery{Match: m, Package: pkg}
		if pkg.Status == models.PackageStatusDelivered {
			return nil
		}
		changed = true

		prev := m.Status
		if m.Status != models.MatchStatusCompleted {
			m.Status = models.MatchStatusConfirmed
			m.UpdatedAt = s.now()
			if err := tx.UpdateMatch(ctx, m); err != nil {
				return access.StoreError(err, "match")
			}
		}
		if err := s.setPackageStatus(ctx, tx, pkg, models.PackageStatusDelivered); err != nil {
			return err
		}
		if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusCompleted); err != nil {
			return access.StoreError(err, "ride")
		}
		if err := s.dropOpenOffers(ctx, tx, actor, m, pkg); err != nil {
			return err
		}
		return emitMatch(ctx, tx, messages.EventDeliveryConfirmed, actor.UserID, m, pkg, prev)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.changed(ctx, out.Match)
	}
	return out, nil
}
