package pgstore

import (
	"context"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Tracking events are append-only: no update or delete queries exist for them.

func (q *queries) AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO tracking_events (
  id, package_id, carrier_id, match_id, location, lat, lng, notes,
  status, event_type, event_time, next_carrier_id, transfer_code
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, e.ID, e.PackageID, e.CarrierID, e.MatchID, e.Location, e.Lat, e.Lng, e.Notes,
		e.Status, e.EventType, e.Timestamp.UTC(), e.NextCarrierID, e.TransferCode)
	return mapErr(err, "insert tracking event")
}

func (q *queries) ListTrackingEvents(ctx context.Context, packageID uuid.UUID) ([]*models.TrackingEvent, error) {
	rows, err := q.db.Query(ctx, `
SELECT
  id, package_id, carrier_id, match_id, location, lat, lng, notes,
  status, event_type, event_time, next_carrier_id, transfer_code
FROM tracking_events
WHERE package_id = $1
ORDER BY event_time ASC, id ASC
`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.PackageID, &e.CarrierID, &e.MatchID, &e.Location, &e.Lat, &e.Lng, &e.Notes,
			&e.Status, &e.EventType, &e.Timestamp, &e.NextCarrierID, &e.TransferCode,
		); err != nil {
			return nil, errors.Wrap(err, "scan tracking event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
