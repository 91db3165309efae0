package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
  id, match_id, user_id, amount, currency, status, payment_method, card_token,
  attempt, transaction_id, failure_reason, refund_amount, refund_reason,
  created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p      models.Payment
		refund decimal.NullDecimal
	)
	if err := row.Scan(
		&p.ID, &p.MatchID, &p.UserID, &p.Amount, &p.Currency, &p.Status, &p.PaymentMethod, &p.CardToken,
		&p.Attempt, &p.TransactionID, &p.FailureReason, &refund, &p.RefundReason,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if refund.Valid {
		p.RefundAmount = &refund.Decimal
	}
	return &p, nil
}

func refundArg(p *models.Payment) decimal.NullDecimal {
	if p.RefundAmount == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p.RefundAmount, Valid: true}
}

func (q *queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO payments (`+paymentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, p.ID, p.MatchID, p.UserID, p.Amount, p.Currency, p.Status, p.PaymentMethod, p.CardToken,
		p.Attempt, p.TransactionID, p.FailureReason, refundArg(p), p.RefundReason,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return mapErr(err, "insert payment")
}

func (q *queries) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "select payment")
	}
	return p, nil
}

func (q *queries) GetPaymentByMatch(ctx context.Context, matchID uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE match_id = $1`, matchID))
	if err != nil {
		return nil, mapErr(err, "select payment by match")
	}
	return p, nil
}

func (q *queries) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tag, err := q.db.Exec(ctx, `
UPDATE payments
SET
  amount = $2,
  currency = $3,
  status = $4,
  payment_method = $5,
  card_token = $6,
  attempt = $7,
  transaction_id = $8,
  failure_reason = $9,
  refund_amount = $10,
  refund_reason = $11,
  updated_at = $12
WHERE id = $1
`, p.ID, p.Amount, p.Currency, p.Status, p.PaymentMethod, p.CardToken, p.Attempt,
		p.TransactionID, p.FailureReason, refundArg(p), p.RefundReason, p.UpdatedAt.UTC())
	if err != nil {
		return mapErr(err, "update payment")
	}
	return expectOne(tag, "update payment")
}

func (q *queries) HasCompletedPayment(ctx context.Context, packageID uuid.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1
  FROM payments p
  JOIN matches m ON m.id = p.match_id
  WHERE m.package_id = $1 AND p.status = $2
)
`, packageID, models.PaymentStatusCompleted).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "select completed payment")
	}
	return ok, nil
}

func (q *queries) ListStalePendingPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE status = $1 AND updated_at <= $2
ORDER BY updated_at ASC
LIMIT $3
`, models.PaymentStatusPending, updatedBefore.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale payments")
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan payment")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
