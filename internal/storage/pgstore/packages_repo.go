package pgstore

import (
	"context"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `
SELECT id, name, email, phone, role, created_at, updated_at
FROM users
WHERE id = $1
`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "select user")
	}
	return &u, nil
}

func (q *queries) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO users (id, name, email, phone, role, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  email = EXCLUDED.email,
  phone = EXCLUDED.phone,
  role = EXCLUDED.role,
  updated_at = EXCLUDED.updated_at
`, u.ID, u.Name, u.Email, u.Phone, u.Role, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return mapErr(err, "upsert user")
}

const packageColumns = `
  id, sender_id, description, sender_address, recipient_address,
  final_destination, current_location, status,
  is_multi_segment, segment_number, total_segments,
  price, weight, created_at, updated_at`

func scanPackage(row pgx.Row) (*models.Package, error) {
	var p models.Package
	if err := row.Scan(
		&p.ID, &p.SenderID, &p.Description, &p.SenderAddress, &p.RecipientAddress,
		&p.FinalDestination, &p.CurrentLocation, &p.Status,
		&p.IsMultiSegment, &p.SegmentNumber, &p.TotalSegments,
		&p.Price, &p.Weight, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) CreatePackage(ctx context.Context, p *models.Package) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO packages (`+packageColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, p.ID, p.SenderID, p.Description, p.SenderAddress, p.RecipientAddress,
		p.FinalDestination, p.CurrentLocation, p.Status,
		p.IsMultiSegment, p.SegmentNumber, p.TotalSegments,
		p.Price, p.Weight, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return mapErr(err, "insert package")
}

func (q *queries) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	p, err := scanPackage(q.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "select package")
	}
	return p, nil
}

// LockPackage takes the package row lock that serializes every state change of a package.
func (q *queries) LockPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	p, err := scanPackage(q.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(err, "lock package")
	}
	return p, nil
}

func (q *queries) UpdatePackage(ctx context.Context, p *models.Package) error {
	tag, err := q.db.Exec(ctx, `
UPDATE packages
SET
  description = $2,
  final_destination = $3,
  current_location = $4,
  status = $5,
  is_multi_segment = $6,
  segment_number = $7,
  total_segments = $8,
  price = $9,
  weight = $10,
  updated_at = $11
WHERE id = $1
`, p.ID, p.Description, p.FinalDestination, p.CurrentLocation, p.Status,
		p.IsMultiSegment, p.SegmentNumber, p.TotalSegments, p.Price, p.Weight, p.UpdatedAt.UTC())
	if err != nil {
		return mapErr(err, "update package")
	}
	return expectOne(tag, "update package")
}

func (q *queries) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO rides (
  id, user_id, origin, destination, departure_time, price_per_kg, available_space,
  status, allows_relay_pickup, allows_relay_dropoff, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, r.ID, r.UserID, r.Origin, r.Destination, r.DepartureTime.UTC(), r.PricePerKg, r.AvailableSpace,
		r.Status, r.AllowsRelayPickup, r.AllowsRelayDropoff, r.CreatedAt.UTC())
	return mapErr(err, "insert ride")
}

func (q *queries) GetRide(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	var r models.Ride
	err := q.db.QueryRow(ctx, `
SELECT
  id, user_id, origin, destination, departure_time, price_per_kg, available_space,
  status, allows_relay_pickup, allows_relay_dropoff, created_at
FROM rides
WHERE id = $1
`, id).Scan(
		&r.ID, &r.UserID, &r.Origin, &r.Destination, &r.DepartureTime, &r.PricePerKg, &r.AvailableSpace,
		&r.Status, &r.AllowsRelayPickup, &r.AllowsRelayDropoff, &r.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err, "select ride")
	}
	return &r, nil
}

func (q *queries) UpdateRideStatus(ctx context.Context, id uuid.UUID, status models.RideStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE rides SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapErr(err, "update ride status")
	}
	return expectOne(tag, "update ride status")
}
