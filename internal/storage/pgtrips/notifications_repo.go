package pgtrips

import (
	"context"
	"time"

	"github.com/BearBump/TripWatch/internal/models"
	"github.com/pkg/errors"
)

// CreatePendingNotification пишется ДО похода в шлюз: упавший между записью
// и отправкой процесс оставляет честный PENDING-след в аудите.
func (s *Storage) CreatePendingNotification(ctx context.Context, n models.NotificationRecord) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO notifications (
  departure_id, booking_id, channel, recipient, transition_status, status, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, n.DepartureID, n.BookingID, n.Channel, n.Recipient, n.TransitionStatus, models.NotificationPending, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert notification")
	}
	return id, nil
}

// FinishNotification переводит запись в терминальный статус. Guard по
// status='PENDING' делает терминальные записи неизменяемыми.
func (s *Storage) FinishNotification(ctx context.Context, id uint64, terminal string, providerID, errorMessage *string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE notifications
SET status = $2, provider_id = $3, error_message = $4, finished_at = now()
WHERE id = $1 AND status = $5
`, id, terminal, providerID, errorMessage, models.NotificationPending)
	if err != nil {
		return errors.Wrap(err, "finish notification")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("notification already terminal or missing")
	}
	return nil
}

func (s *Storage) ListNotifications(ctx context.Context, departureID string, limit, offset int) ([]*models.NotificationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, departure_id, booking_id, channel, recipient, transition_status,
  status, provider_id, error_message, created_at, finished_at
FROM notifications
WHERE departure_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, departureID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.NotificationRecord
	for rows.Next() {
		var n models.NotificationRecord
		if err := rows.Scan(
			&n.ID, &n.DepartureID, &n.BookingID, &n.Channel, &n.Recipient, &n.TransitionStatus,
			&n.Status, &n.ProviderID, &n.ErrorMessage, &n.CreatedAt, &n.FinishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
