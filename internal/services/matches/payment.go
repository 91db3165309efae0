package matches

import (
	"context"
	"errors"
	"strings"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/access"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
)

type PayInput struct {
	MatchID   uuid.UUID
	CardToken string
	// Currency overrides the configured one. ISO 4217, case-insensitive.
	Currency string
	// AutoAccept moves the match to ACCEPTED_BY_SENDER after a successful charge. Defaults to true.
	AutoAccept *bool
}

// PayResult carries the payment as stored. A PENDING payment means the
// gateway outcome is unknown and the reconciler will settle it.
type PayResult struct {
	Payment *models.Payment `json:"payment"`
	Match   *models.Match   `json:"match"`
}

// Pay charges the sender's card for a match. The gateway is called outside
// of any transaction: the payment row is reserved first, then finalized.
func (s *Service) Pay(ctx context.Context, actor models.Actor, in PayInput) (*PayResult, error) {
	token := strings.TrimSpace(in.CardToken)
	if token == "" {
		return nil, apperr.Validation("card token is required")
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.opts.Currency
	} else if len(currency) != 3 {
		return nil, apperr.Validation("currency must be a 3-letter code")
	}
	autoAccept := in.AutoAccept == nil || *in.AutoAccept

	pay, m, err := s.reservePayment(ctx, actor, in.MatchID, token, currency)
	if err != nil {
		return nil, err
	}

	ctx = s.log.WithFields(ctx, map[string]any{"payment_id": pay.ID.String(), "match_id": m.ID.String()})
	res, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		ReferenceID: pay.Reference(),
		Amount:      pay.Amount,
		Currency:    pay.Currency,
		CardToken:   token,
		Description: "RelayBox delivery " + m.PackageID.String(),
		Metadata: map[string]string{
			"payment_id": pay.ID.String(),
			"match_id":   m.ID.String(),
			"package_id": m.PackageID.String(),
		},
	})
	switch {
	case errors.Is(err, payment.ErrInvalidRequest):
		res = payment.ChargeResult{Status: payment.StatusFailed, FailureReason: err.Error()}
	case err != nil:
		// исход неизвестен: платеж остается PENDING до сверки
		s.log.Warn(ctx, "charge outcome unknown, left for reconciliation", err)
		s.metrics.IncPayment("pending")
		return &PayResult{Payment: pay, Match: m}, nil
	}

	return s.FinalizePayment(ctx, pay.ID, res, autoAccept)
}

// reservePayment creates the PENDING payment row, or re-arms a FAILED one
// with a new attempt number.
func (s *Service) reservePayment(ctx context.Context, actor models.Actor, matchID uuid.UUID, token, currency string) (*models.Payment, *models.Match, error) {
	var (
		pay *models.Payment
		out *models.Match
	)
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		m, pkg, err := access.LockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if pkg.SenderID != actor.UserID {
			return apperr.Forbidden("only the package owner can pay")
		}
		if m.Status.IsClosed() || m.Status == models.MatchStatusAwaitingTransfer {
			return apperr.InvalidStatef("match is %s", m.Status)
		}
		if pkg.Status.IsClosed() {
			return apperr.InvalidStatef("package is %s", pkg.Status)
		}
		if !m.Price.IsPositive() {
			return apperr.InvalidState("nothing to pay for this match")
		}

		now := s.now()
		existing, err := tx.GetPaymentByMatch(ctx, m.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			pay = &models.Payment{
				ID:            uuid.New(),
				MatchID:       m.ID,
				UserID:        actor.UserID,
				Amount:        m.Price,
				Currency:      currency,
				Status:        models.PaymentStatusPending,
				PaymentMethod: models.PaymentMethodCard,
				CardToken:     &token,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.CreatePayment(ctx, pay); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					return apperr.InvalidState("payment already in progress")
				}
				return access.StoreError(err, "payment")
			}
		case err != nil:
			return apperr.Internal(err)
		default:
			switch existing.Status {
			case models.PaymentStatusFailed:
			case models.PaymentStatusPending:
				return apperr.InvalidState("payment already in progress")
			default:
				return apperr.InvalidStatef("match is already paid (%s)", existing.Status)
			}
			existing.Attempt++
			existing.Status = models.PaymentStatusPending
			existing.Amount = m.Price
			existing.Currency = currency
			existing.CardToken = &token
			existing.FailureReason = nil
			existing.TransactionID = nil
			existing.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, existing); err != nil {
				return access.StoreError(err, "payment")
			}
			pay = existing
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pay, out, nil
}

// FinalizePayment applies a gateway result to a PENDING payment. Calling it
// for a payment that is no longer PENDING returns the stored state unchanged.
func (s *Service) FinalizePayment(ctx context.Context, paymentID uuid.UUID, res payment.ChargeResult, autoAccept bool) (*PayResult, error) {
	var (
		out      *PayResult
		advanced bool
	)
	err := s.store.WithTx(ctx, func(tx storage.Repository) error {
		pay, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return access.StoreError(err, "payment")
		}
		m, pkg, err := access.LockMatch(ctx, tx, pay.MatchID)
		if err != nil {
			return err
		}
		if pay, err = tx.GetPayment(ctx, paymentID); err != nil {
			return access.StoreError(err, "payment")
		}
		out = &PayResult{Payment: pay, Match: m}
		if pay.Status != models.PaymentStatusPending {
			return nil
		}

		now := s.now()
		pay.UpdatedAt = now
		if res.Status != payment.StatusCompleted {
			reason := res.FailureReason
			if reason == "" {
				reason = "payment declined"
			}
			pay.Status = models.PaymentStatusFailed
			pay.FailureReason = &reason
			if err := tx.UpdatePayment(ctx, pay); err != nil {
				return access.StoreError(err, "payment")
			}
			return emitPayment(ctx, tx, messages.EventPaymentFailed, pkg.SenderID, pay, m, pkg)
		}

		pay.Status = models.PaymentStatusCompleted
		pay.FailureReason = nil
		if res.TransactionID != "" {
			txID := res.TransactionID
			pay.TransactionID = &txID
		}
		if err := tx.UpdatePayment(ctx, pay); err != nil {
			return access.StoreError(err, "payment")
		}

		if autoAccept && acceptsOnPayment(m.Status) && !pkg.Status.IsClosed() {
			list, err := tx.ListMatchesByPackage(ctx, pkg.ID)
			if err != nil {
				return apperr.Internal(err)
			}
			if access.OtherHolder(list, m.ID) == nil {
				claimSegment(list, m, pkg)
				m.Status = models.MatchStatusAcceptedBySender
				m.UpdatedAt = now
				if m.AcceptedAt == nil {
					m.AcceptedAt = &now
				}
				if err := tx.UpdateMatch(ctx, m); err != nil {
					return access.StoreError(err, "match")
				}
				if err := s.syncPackage(ctx, tx, pkg, m); err != nil {
					return err
				}
				if err := tx.UpdateRideStatus(ctx, m.RideID, models.RideStatusActive); err != nil {
					return access.StoreError(err, "ride")
				}
				advanced = true
			}
		}
		return emitPayment(ctx, tx, messages.EventPaymentCompleted, pkg.SenderID, pay, m, pkg)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayment(strings.ToLower(string(out.Payment.Status)))
	if advanced {
		s.changed(ctx, out.Match)
	} else if s.cache != nil {
		s.cache.InvalidatePackage(ctx, out.Match.PackageID)
	}
	return out, nil
}

func acceptsOnPayment(st models.MatchStatus) bool {
	switch st {
	case models.MatchStatusPending, models.MatchStatusConfirmed, models.MatchStatusAcceptedByCarrier:
		return true
	}
	return false
}
