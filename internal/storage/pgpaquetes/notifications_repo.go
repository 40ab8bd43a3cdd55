package pgpaquetes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

const notificationColumns = `
  id, package_id, event_id, channel, event_type,
  recipient, message, template_id,
  status, provider_id, provider_response, cost_cents, error_message,
  retry_count, max_retries, next_attempt_at,
  sent_at, delivered_at, created_at, updated_at
`

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID, &n.PackageID, &n.EventID, &n.Channel, &n.EventType,
		&n.Recipient, &n.Message, &n.TemplateID,
		&n.Status, &n.ProviderID, &n.ProviderResponse, &n.CostCents, &n.ErrorMessage,
		&n.RetryCount, &n.MaxRetries, &n.NextAttemptAt,
		&n.SentAt, &n.DeliveredAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification enqueues a message. Inserts keyed by the same
// event_id collapse into the first row, which makes the dispatch trigger
// safe to replay.
func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	now := time.Now().UTC()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = now
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO notifications (
  id, package_id, event_id, channel, event_type,
  recipient, message, template_id,
  status, provider_id, provider_response, cost_cents, error_message,
  retry_count, max_retries, next_attempt_at, sent_at, delivered_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,NULL,0,$10,0,$11,$12,NULL,NULL,$13,$13)
ON CONFLICT (event_id) WHERE event_id IS NOT NULL DO NOTHING
`, n.ID, n.PackageID, n.EventID, n.Channel, n.EventType,
		n.Recipient, n.Message, n.TemplateID,
		n.Status, n.ErrorMessage, n.MaxRetries, n.NextAttemptAt.UTC(), now)
	return errors.Wrap(err, "insert notification")
}

func (s *Storage) GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select notification")
	}
	return n, nil
}

func (s *Storage) ListNotificationsByPackage(ctx context.Context, packageID uint64) ([]*models.Notification, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+notificationColumns+`
FROM notifications
WHERE package_id = $1
ORDER BY created_at DESC
`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueNotifications picks queued messages whose attempt time has come
// and leases them forward, so concurrent workers never send the same
// message twice. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+notificationColumns+`
FROM notifications
WHERE status = $1 AND next_attempt_at <= $2
ORDER BY next_attempt_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, models.NotificationStatusQueued, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due notifications")
	}
	defer rows.Close()

	var picked []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due notification")
		}
		picked = append(picked, n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, n := range picked {
		_, err := tx.Exec(ctx, `UPDATE notifications SET next_attempt_at = $2, updated_at = now() WHERE id = $1`, n.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease notification")
		}
		n.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// NotificationOutcome is the result of one send attempt, applied from the
// delivery report stream.
type NotificationOutcome struct {
	ID               uuid.UUID
	Status           string
	ProviderID       *string
	ProviderResponse *string
	CostCents        int32
	ErrorMessage     *string
	RetryCount       int32
	NextAttemptAt    time.Time
	SentAt           *time.Time
}

// ApplyNotificationOutcome records the result of a send attempt. Rows that
// already reached a terminal state are left alone so late or duplicate
// reports cannot regress them.
func (s *Storage) ApplyNotificationOutcome(ctx context.Context, out NotificationOutcome) error {
	tag, err := s.db.Exec(ctx, `
UPDATE notifications
SET status = $2,
    provider_id = COALESCE($3, provider_id),
    provider_response = COALESCE($4, provider_response),
    cost_cents = CASE WHEN $5 > 0 THEN $5 ELSE cost_cents END,
    error_message = $6,
    retry_count = $7,
    next_attempt_at = $8,
    sent_at = COALESCE($9, sent_at),
    updated_at = now()
WHERE id = $1 AND status NOT IN ($10, $11)
`, out.ID, out.Status,
		out.ProviderID, out.ProviderResponse, out.CostCents, out.ErrorMessage,
		out.RetryCount, out.NextAttemptAt.UTC(), out.SentAt,
		models.NotificationStatusDelivered, models.NotificationStatusFailed)
	if err != nil {
		return errors.Wrap(err, "apply notification outcome")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkNotificationDelivered records a provider delivery receipt.
func (s *Storage) MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE notifications
SET status = $2, delivered_at = $3, updated_at = now()
WHERE id = $1 AND status = $4
`, id, models.NotificationStatusDelivered, at.UTC(), models.NotificationStatusSent)
	return errors.Wrap(err, "mark notification delivered")
}
