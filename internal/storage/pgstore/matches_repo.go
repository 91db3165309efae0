package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// carrier_id is joined from the owning ride.
const matchSelect = `
SELECT
  m.id, m.package_id, m.ride_id, r.user_id,
  m.status, m.price, m.is_relay_segment, m.segment_order,
  m.is_partial_delivery, m.dropoff_location, m.notes,
  m.accepted_at, m.resume_status, m.created_at, m.updated_at
FROM matches m
JOIN rides r ON r.id = m.ride_id`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	if err := row.Scan(
		&m.ID, &m.PackageID, &m.RideID, &m.CarrierID,
		&m.Status, &m.Price, &m.IsRelaySegment, &m.SegmentOrder,
		&m.IsPartialDelivery, &m.DropoffLocation, &m.Notes,
		&m.AcceptedAt, &m.ResumeStatus, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMatches(rows pgx.Rows) ([]*models.Match, error) {
	defer rows.Close()
	var out []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan match")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (q *queries) CreateMatch(ctx context.Context, m *models.Match) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO matches (
  id, package_id, ride_id, status, price, is_relay_segment, segment_order,
  is_partial_delivery, dropoff_location, notes, accepted_at, resume_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`, m.ID, m.PackageID, m.RideID, m.Status, m.Price, m.IsRelaySegment, m.SegmentOrder,
		m.IsPartialDelivery, m.DropoffLocation, m.Notes, m.AcceptedAt, m.ResumeStatus, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	return mapErr(err, "insert match")
}

func (q *queries) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := scanMatch(q.db.QueryRow(ctx, matchSelect+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "select match")
	}
	return m, nil
}

func (q *queries) UpdateMatch(ctx context.Context, m *models.Match) error {
	tag, err := q.db.Exec(ctx, `
UPDATE matches
SET
  status = $2,
  price = $3,
  is_partial_delivery = $4,
  dropoff_location = $5,
  notes = $6,
  accepted_at = $7,
  resume_status = $8,
  segment_order = $9,
  updated_at = $10
WHERE id = $1
`, m.ID, m.Status, m.Price, m.IsPartialDelivery, m.DropoffLocation, m.Notes, m.AcceptedAt, m.ResumeStatus,
		m.SegmentOrder, m.UpdatedAt.UTC())
	if err != nil {
		return mapErr(err, "update match")
	}
	return expectOne(tag, "update match")
}

func (q *queries) ListMatchesByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.Match, error) {
	rows, err := q.db.Query(ctx, matchSelect+`
WHERE m.package_id = $1
ORDER BY m.segment_order ASC, m.created_at ASC
`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select matches by package")
	}
	return collectMatches(rows)
}

func (q *queries) ListMatches(ctx context.Context, f models.MatchFilter) ([]*models.Match, error) {
	var (
		where []string
		args  []any
	)
	if f.CarrierID != nil {
		args = append(args, *f.CarrierID)
		where = append(where, fmt.Sprintf("r.user_id = $%d", len(args)))
	}
	if f.SenderID != nil {
		args = append(args, *f.SenderID)
		where = append(where, fmt.Sprintf("m.package_id IN (SELECT id FROM packages WHERE sender_id = $%d)", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("m.status = $%d", len(args)))
	}

	sql := matchSelect
	if len(where) > 0 {
		sql += "\nWHERE " + strings.Join(where, " AND ")
	}
	sql += "\nORDER BY m.created_at DESC\nLIMIT 500"

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select matches")
	}
	return collectMatches(rows)
}
