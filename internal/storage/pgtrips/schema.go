package pgtrips

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_records (
  id BIGSERIAL PRIMARY KEY,
  departure_id TEXT NOT NULL,
  vehicle_id TEXT NOT NULL,
  driver_id TEXT NOT NULL,
  status TEXT NOT NULL,
  forward_status TEXT NOT NULL DEFAULT 'SCHEDULED',
  lat DOUBLE PRECISION NULL,
  lon DOUBLE PRECISION NULL,
  last_fix_at TIMESTAMPTZ NULL,
  passenger_count INT NOT NULL DEFAULT 0,
  trip_started_at TIMESTAMPTZ NULL,
  trip_completed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (departure_id)
)`,
		// Breadcrumbs: append-only, никогда не обновляются и не удаляются.
		`
CREATE TABLE IF NOT EXISTS breadcrumbs (
  id BIGSERIAL PRIMARY KEY,
  tracking_id BIGINT NOT NULL REFERENCES tracking_records(id) ON DELETE CASCADE,
  lat DOUBLE PRECISION NOT NULL,
  lon DOUBLE PRECISION NOT NULL,
  speed DOUBLE PRECISION NULL,
  heading DOUBLE PRECISION NULL,
  accuracy DOUBLE PRECISION NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_tracking_id_recorded_at ON breadcrumbs(tracking_id, recorded_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS live_statuses (
  departure_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  progress_pct INT NOT NULL DEFAULT 0,
  delay_minutes INT NOT NULL DEFAULT 0,
  tracking_token TEXT NOT NULL,
  driver_updated_at TIMESTAMPTZ NULL,
  auto_updated_at TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS trip_events (
  id BIGSERIAL PRIMARY KEY,
  tracking_id BIGINT NOT NULL REFERENCES tracking_records(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  driver_id TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NULL,
  lon DOUBLE PRECISION NULL,
  payload JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_events_tracking_id_created_at ON trip_events(tracking_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  departure_id TEXT NOT NULL,
  booking_id TEXT NOT NULL,
  channel TEXT NOT NULL,
  recipient TEXT NOT NULL,
  transition_status TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  provider_id TEXT NULL,
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_departure_id_created_at ON notifications(departure_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
