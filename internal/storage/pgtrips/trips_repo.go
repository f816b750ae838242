package pgtrips

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/status"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// StatusTransition — атомарный переход state machine: find-or-create записи,
// штампы boarding/completed, одно событие, один upsert проекции.
type StatusTransition struct {
	DepartureID string
	VehicleID   string
	DriverID    string

	// NewStatus must already be normalized via status.ParseVehicle.
	NewStatus string

	PassengerCount *int32
	Lat            *float64
	Lon            *float64
	DelayMinutes   *int32

	OriginName string
	DestName   string

	PayloadJSON string
	Now         time.Time
}

type TransitionResult struct {
	Record  *models.TrackingRecord
	Live    *models.LiveStatus
	Created bool

	// EffectiveStatus is what actually got stored: a regressing non-overlay
	// status is carried forward instead of written.
	EffectiveStatus string
}

type LocationUpdate struct {
	TrackingID uint64

	Lat float64
	Lon float64

	Speed    *float64
	Heading  *float64
	Accuracy *float64

	// Optional inline status change, normalized via status.ParseVehicle.
	NewStatus      *string
	PassengerCount *int32

	// Time-based progress heuristic computed by the caller; the stored
	// progress never regresses.
	ProgressPct int32

	OriginName string
	DestName   string

	PayloadJSON string
	Now         time.Time
}

type LocationResult struct {
	Record *models.TrackingRecord
	Live   *models.LiveStatus
}

const trackingColumns = `
  id, departure_id, vehicle_id, driver_id, status, forward_status,
  lat, lon, last_fix_at, passenger_count,
  trip_started_at, trip_completed_at,
  created_at, updated_at`

func scanTracking(row pgx.Row) (*models.TrackingRecord, error) {
	var t models.TrackingRecord
	if err := row.Scan(
		&t.ID, &t.DepartureID, &t.VehicleID, &t.DriverID, &t.Status, &t.ForwardStatus,
		&t.Lat, &t.Lon, &t.LastFixAt, &t.PassengerCount,
		&t.TripStartedAt, &t.TripCompletedAt,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

const liveColumns = `
  departure_id, status, message, progress_pct, delay_minutes,
  tracking_token, driver_updated_at, auto_updated_at, updated_at`

func scanLive(row pgx.Row) (*models.LiveStatus, error) {
	var l models.LiveStatus
	if err := row.Scan(
		&l.DepartureID, &l.Status, &l.Message, &l.ProgressPct, &l.DelayMinutes,
		&l.TrackingToken, &l.DriverUpdatedAt, &l.AutoUpdatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

// ApplyStatusTransition выполняет все шесть шагов перехода в одной
// транзакции. FOR UPDATE на строке tracking_records сериализует
// конкурирующие репорты по одному departure.
func (s *Storage) ApplyStatusTransition(ctx context.Context, in StatusTransition) (*TransitionResult, error) {
	now := in.Now.UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanTracking(tx.QueryRow(ctx, `
SELECT`+trackingColumns+`
FROM tracking_records
WHERE departure_id = $1
FOR UPDATE
`, in.DepartureID))

	created := false
	if err == pgx.ErrNoRows {
		if in.VehicleID == "" {
			return nil, ErrVehicleNotFound
		}
		rec, created, err = insertOrClaimTracking(ctx, tx, in, now)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock tracking record")
	}

	effective := status.Resolve(rec.Status, rec.ForwardStatus, in.NewStatus)
	forward := rec.ForwardStatus
	if !status.IsOverlay(effective) {
		forward = effective
	}

	startedAt := rec.TripStartedAt
	if effective == status.VehicleBoarding && startedAt == nil {
		t := now
		startedAt = &t
	}
	completedAt := rec.TripCompletedAt
	if effective == status.VehicleCompleted && completedAt == nil {
		t := now
		completedAt = &t
	}

	passengers := rec.PassengerCount
	if in.PassengerCount != nil {
		passengers = *in.PassengerCount
	}

	lat, lon, lastFix := rec.Lat, rec.Lon, rec.LastFixAt
	if in.Lat != nil && in.Lon != nil {
		lat, lon = in.Lat, in.Lon
		t := now
		lastFix = &t
	}

	rec, err = scanTracking(tx.QueryRow(ctx, `
UPDATE tracking_records
SET
  status = $2,
  forward_status = $3,
  lat = $4,
  lon = $5,
  last_fix_at = $6,
  passenger_count = $7,
  trip_started_at = $8,
  trip_completed_at = $9,
  updated_at = now()
WHERE id = $1
RETURNING`+trackingColumns+`
`, rec.ID, effective, forward, lat, lon, lastFix, passengers, startedAt, completedAt))
	if err != nil {
		return nil, errors.Wrap(err, "update tracking record")
	}

	if err := insertEvent(ctx, tx, rec.ID, models.EventKindStatusChange, in.DriverID, in.Lat, in.Lon, in.PayloadJSON, now); err != nil {
		return nil, err
	}

	completed := effective == status.VehicleCompleted
	overlay := status.IsOverlay(effective)
	insertProgress := int32(0)
	if completed {
		insertProgress = 100
	}
	var insertDelay int32
	if overlay && in.DelayMinutes != nil {
		insertDelay = *in.DelayMinutes
	}

	live, err := scanLive(tx.QueryRow(ctx, `
INSERT INTO live_statuses (
  departure_id, status, message, progress_pct, delay_minutes,
  tracking_token, driver_updated_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,now())
ON CONFLICT (departure_id) DO UPDATE SET
  status = EXCLUDED.status,
  message = EXCLUDED.message,
  progress_pct = CASE WHEN $8 THEN 100 ELSE GREATEST(live_statuses.progress_pct, EXCLUDED.progress_pct) END,
  delay_minutes = CASE WHEN $9 THEN COALESCE($10, live_statuses.delay_minutes) ELSE 0 END,
  driver_updated_at = EXCLUDED.driver_updated_at,
  updated_at = now()
RETURNING`+liveColumns+`
`, in.DepartureID, status.LiveFor(effective), status.Message(effective, in.OriginName, in.DestName),
		insertProgress, insertDelay, uuid.NewString(), now,
		completed, overlay, in.DelayMinutes))
	if err != nil {
		return nil, errors.Wrap(err, "upsert live status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return &TransitionResult{
		Record:          rec,
		Live:            live,
		Created:         created,
		EffectiveStatus: effective,
	}, nil
}

// insertOrClaimTracking разрешает гонку двух первых репортов: ON CONFLICT
// блокирует строку победителя и отдает ее через RETURNING, xmax = 0
// отличает настоящую вставку от захвата чужой.
func insertOrClaimTracking(ctx context.Context, tx pgx.Tx, in StatusTransition, now time.Time) (*models.TrackingRecord, bool, error) {
	var t models.TrackingRecord
	var inserted bool
	err := tx.QueryRow(ctx, `
INSERT INTO tracking_records (
  departure_id, vehicle_id, driver_id, status, forward_status, passenger_count, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$4,0,$5,$5)
ON CONFLICT (departure_id)
DO UPDATE SET updated_at = tracking_records.updated_at
RETURNING`+trackingColumns+`, (xmax = 0)
`, in.DepartureID, in.VehicleID, in.DriverID, status.VehicleScheduled, now).Scan(
		&t.ID, &t.DepartureID, &t.VehicleID, &t.DriverID, &t.Status, &t.ForwardStatus,
		&t.Lat, &t.Lon, &t.LastFixAt, &t.PassengerCount,
		&t.TripStartedAt, &t.TripCompletedAt,
		&t.CreatedAt, &t.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, err
	}
	return &t, inserted, nil
}

// ApplyLocationUpdate: last-write-wins для текущих координат, append-only
// для breadcrumbs, прогресс в проекции не откатывается назад.
func (s *Storage) ApplyLocationUpdate(ctx context.Context, in LocationUpdate) (*LocationResult, error) {
	now := in.Now.UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanTracking(tx.QueryRow(ctx, `
SELECT`+trackingColumns+`
FROM tracking_records
WHERE id = $1
FOR UPDATE
`, in.TrackingID))
	if err == pgx.ErrNoRows {
		return nil, ErrTrackingNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock tracking record")
	}

	effective := rec.Status
	if in.NewStatus != nil {
		effective = status.Resolve(rec.Status, rec.ForwardStatus, *in.NewStatus)
	}
	forward := rec.ForwardStatus
	if !status.IsOverlay(effective) {
		forward = effective
	}

	startedAt := rec.TripStartedAt
	if effective == status.VehicleBoarding && startedAt == nil {
		t := now
		startedAt = &t
	}
	completedAt := rec.TripCompletedAt
	if effective == status.VehicleCompleted && completedAt == nil {
		t := now
		completedAt = &t
	}

	passengers := rec.PassengerCount
	if in.PassengerCount != nil {
		passengers = *in.PassengerCount
	}

	rec, err = scanTracking(tx.QueryRow(ctx, `
UPDATE tracking_records
SET
  status = $2,
  forward_status = $3,
  lat = $4,
  lon = $5,
  last_fix_at = $6,
  passenger_count = $7,
  trip_started_at = $8,
  trip_completed_at = $9,
  updated_at = now()
WHERE id = $1
RETURNING`+trackingColumns+`
`, rec.ID, effective, forward, in.Lat, in.Lon, now, passengers, startedAt, completedAt))
	if err != nil {
		return nil, errors.Wrap(err, "update tracking record")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO breadcrumbs (
  tracking_id, lat, lon, speed, heading, accuracy, recorded_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,now())
`, rec.ID, in.Lat, in.Lon, in.Speed, in.Heading, in.Accuracy, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert breadcrumb")
	}

	lat, lon := in.Lat, in.Lon
	if err := insertEvent(ctx, tx, rec.ID, models.EventKindLocationUpdate, rec.DriverID, &lat, &lon, in.PayloadJSON, now); err != nil {
		return nil, err
	}

	completed := effective == status.VehicleCompleted
	insertProgress := in.ProgressPct
	if completed {
		insertProgress = 100
	}

	live, err := scanLive(tx.QueryRow(ctx, `
INSERT INTO live_statuses (
  departure_id, status, message, progress_pct, delay_minutes,
  tracking_token, auto_updated_at, updated_at
)
VALUES ($1,$2,$3,$4,0,$5,$6,now())
ON CONFLICT (departure_id) DO UPDATE SET
  status = EXCLUDED.status,
  message = EXCLUDED.message,
  progress_pct = CASE WHEN $7 THEN 100 ELSE GREATEST(live_statuses.progress_pct, EXCLUDED.progress_pct) END,
  auto_updated_at = EXCLUDED.auto_updated_at,
  updated_at = now()
RETURNING`+liveColumns+`
`, rec.DepartureID, status.LiveFor(effective), status.Message(effective, in.OriginName, in.DestName),
		insertProgress, uuid.NewString(), now, completed))
	if err != nil {
		return nil, errors.Wrap(err, "upsert live status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return &LocationResult{Record: rec, Live: live}, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, trackingID uint64, kind, driverID string, lat, lon *float64, payloadJSON string, now time.Time) error {
	var payload any
	if payloadJSON != "" {
		var m any
		if json.Unmarshal([]byte(payloadJSON), &m) == nil {
			payload = m
		}
	}
	_, err := tx.Exec(ctx, `
INSERT INTO trip_events (tracking_id, kind, driver_id, lat, lon, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, trackingID, kind, driverID, lat, lon, payload, now)
	return errors.Wrap(err, "insert trip event")
}

func (s *Storage) GetTrackingByID(ctx context.Context, id uint64) (*models.TrackingRecord, error) {
	rec, err := scanTracking(s.db.QueryRow(ctx, `
SELECT`+trackingColumns+`
FROM tracking_records
WHERE id = $1
`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrTrackingNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking record")
	}
	return rec, nil
}

func (s *Storage) GetTrackingByDeparture(ctx context.Context, departureID string) (*models.TrackingRecord, error) {
	rec, err := scanTracking(s.db.QueryRow(ctx, `
SELECT`+trackingColumns+`
FROM tracking_records
WHERE departure_id = $1
`, departureID))
	if err == pgx.ErrNoRows {
		return nil, ErrTrackingNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking record")
	}
	return rec, nil
}

func (s *Storage) GetLiveStatus(ctx context.Context, departureID string) (*models.LiveStatus, error) {
	live, err := scanLive(s.db.QueryRow(ctx, `
SELECT`+liveColumns+`
FROM live_statuses
WHERE departure_id = $1
`, departureID))
	if err == pgx.ErrNoRows {
		return nil, ErrLiveStatusNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select live status")
	}
	return live, nil
}

func (s *Storage) LatestBreadcrumb(ctx context.Context, trackingID uint64) (*models.Breadcrumb, error) {
	var b models.Breadcrumb
	err := s.db.QueryRow(ctx, `
SELECT id, tracking_id, lat, lon, speed, heading, accuracy, recorded_at, created_at
FROM breadcrumbs
WHERE tracking_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1
`, trackingID).Scan(
		&b.ID, &b.TrackingID, &b.Lat, &b.Lon, &b.Speed, &b.Heading, &b.Accuracy, &b.RecordedAt, &b.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest breadcrumb")
	}
	return &b, nil
}

func (s *Storage) ListBreadcrumbs(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.Breadcrumb, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, lat, lon, speed, heading, accuracy, recorded_at, created_at
FROM breadcrumbs
WHERE tracking_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2 OFFSET $3
`, trackingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select breadcrumbs")
	}
	defer rows.Close()

	var out []*models.Breadcrumb
	for rows.Next() {
		var b models.Breadcrumb
		if err := rows.Scan(
			&b.ID, &b.TrackingID, &b.Lat, &b.Lon, &b.Speed, &b.Heading, &b.Accuracy, &b.RecordedAt, &b.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan breadcrumb")
		}
		out = append(out, &b)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
