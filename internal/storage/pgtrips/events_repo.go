package pgtrips

import (
	"context"
	"encoding/json"

	"github.com/BearBump/TripWatch/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListTripEvents(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.TripEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, kind, driver_id, lat, lon, payload, created_at
FROM trip_events
WHERE tracking_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, trackingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select trip events")
	}
	defer rows.Close()

	var out []*models.TripEvent
	for rows.Next() {
		var e models.TripEvent
		var payload any
		if err := rows.Scan(
			&e.ID, &e.TrackingID, &e.Kind, &e.DriverID, &e.Lat, &e.Lon, &payload, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan trip event")
		}

		if payload != nil {
			b, _ := json.Marshal(payload)
			s := string(b)
			e.PayloadJSON = &s
		}

		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
