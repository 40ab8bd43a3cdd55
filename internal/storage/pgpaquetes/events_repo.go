package pgpaquetes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

const eventColumns = `
  id, package_id, event_type, event_time,
  tracking_number, guide_number, consult_code,
  status_before, status_after,
  package_type, condition, posicion,
  customer_name, customer_phone,
  base_fee, storage_fee, storage_days, total_amount,
  payment_method, payment_amount,
  operator, cancellation_reason, file_id, observations,
  created_at
`

func insertEvent(ctx context.Context, tx pgx.Tx, ev *models.PackageEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := tx.Exec(ctx, `
INSERT INTO package_events (
  id, package_id, event_type, event_time,
  tracking_number, guide_number, consult_code,
  status_before, status_after,
  package_type, condition, posicion,
  customer_name, customer_phone,
  base_fee, storage_fee, storage_days, total_amount,
  payment_method, payment_amount,
  operator, cancellation_reason, file_id, observations,
  created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
`, ev.ID, ev.PackageID, ev.EventType, ev.EventTime.UTC(),
		ev.TrackingNumber, ev.GuideNumber, ev.ConsultCode,
		ev.StatusBefore, ev.StatusAfter,
		ev.PackageType, ev.Condition, ev.Posicion,
		ev.CustomerName, ev.CustomerPhone,
		ev.BaseFee, ev.StorageFee, ev.StorageDays, ev.TotalAmount,
		ev.PaymentMethod, ev.PaymentAmount,
		ev.Operator, ev.CancellationReason, ev.FileID, ev.Observations,
		ev.CreatedAt)
	return errors.Wrap(err, "insert package event")
}

// AppendEvent records a non-transition event (note, image, modification)
// in its own transaction. The packages row is untouched.
func (s *Storage) AppendEvent(ctx context.Context, ev *models.PackageEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListPackageEvents(ctx context.Context, packageID uint64, limit int) ([]*models.PackageEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM package_events
WHERE package_id = $1
ORDER BY event_time DESC, created_at DESC
LIMIT $2
`, packageID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select package events")
	}
	defer rows.Close()

	var out []*models.PackageEvent
	for rows.Next() {
		var ev models.PackageEvent
		if err := rows.Scan(
			&ev.ID, &ev.PackageID, &ev.EventType, &ev.EventTime,
			&ev.TrackingNumber, &ev.GuideNumber, &ev.ConsultCode,
			&ev.StatusBefore, &ev.StatusAfter,
			&ev.PackageType, &ev.Condition, &ev.Posicion,
			&ev.CustomerName, &ev.CustomerPhone,
			&ev.BaseFee, &ev.StorageFee, &ev.StorageDays, &ev.TotalAmount,
			&ev.PaymentMethod, &ev.PaymentAmount,
			&ev.Operator, &ev.CancellationReason, &ev.FileID, &ev.Observations,
			&ev.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan package event")
		}
		out = append(out, &ev)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
