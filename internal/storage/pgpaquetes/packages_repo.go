package pgpaquetes

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/elclub/paqclub/internal/models"
)

const packageColumns = `
  id, tracking_number, guide_number, consult_code,
  customer_name, customer_phone,
  package_type, status, condition, posicion,
  base_fee, storage_fee, total_amount,
  announced_at, received_at, delivered_at, cancelled_at,
  created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var p models.Package
	err := row.Scan(
		&p.ID, &p.TrackingNumber, &p.GuideNumber, &p.ConsultCode,
		&p.CustomerName, &p.CustomerPhone,
		&p.PackageType, &p.Status, &p.Condition, &p.Posicion,
		&p.BaseFee, &p.StorageFee, &p.TotalAmount,
		&p.AnnouncedAt, &p.ReceivedAt, &p.DeliveredAt, &p.CancelledAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePackage inserts the package row and its first lifecycle event in
// one transaction. The event row must already carry the full snapshot.
func (s *Storage) CreatePackage(ctx context.Context, in models.PackageCreateInput, event *models.PackageEvent) (*models.Package, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO packages (
  tracking_number, guide_number, consult_code,
  customer_name, customer_phone,
  package_type, status, condition, posicion,
  announced_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10,$10)
RETURNING id
`, in.TrackingNumber, in.GuideNumber, in.ConsultCode,
		in.CustomerName, in.CustomerPhone,
		in.PackageType, in.Status, in.Condition, in.Posicion,
		now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert package")
	}

	event.PackageID = &id
	if err := insertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetPackageByID(ctx, id)
}

func (s *Storage) getPackageWhere(ctx context.Context, where string, arg any) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) GetPackageByID(ctx context.Context, id uint64) (*models.Package, error) {
	return s.getPackageWhere(ctx, `id = $1`, id)
}

func (s *Storage) GetPackageByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Package, error) {
	return s.getPackageWhere(ctx, `tracking_number = $1`, trackingNumber)
}

func (s *Storage) GetPackageByGuideNumber(ctx context.Context, guideNumber string) (*models.Package, error) {
	return s.getPackageWhere(ctx, `guide_number = $1`, guideNumber)
}

func (s *Storage) GetPackageByConsultCode(ctx context.Context, consultCode string) (*models.Package, error) {
	return s.getPackageWhere(ctx, `consult_code = $1`, consultCode)
}

func (s *Storage) ListPackagesByStatus(ctx context.Context, status string, limit int) ([]*models.Package, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE status = $1
ORDER BY announced_at ASC
LIMIT $2
`, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	defer rows.Close()

	var out []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// TransitionUpdate carries everything ExecTransition needs to move one
// package between statuses. Event must be fully built by the caller; the
// repository only stamps its PackageID.
type TransitionUpdate struct {
	PackageID    uint64
	StatusBefore string
	NewStatus    string

	Condition   *string
	Posicion    *string
	GuideNumber *string

	BaseFee     decimal.Decimal
	StorageFee  decimal.Decimal
	TotalAmount decimal.Decimal

	Now   time.Time
	Event *models.PackageEvent
}

// ExecTransition applies one status change atomically: the row is locked,
// the expected current status is re-checked under the lock, and the
// package update and its audit event commit together or not at all. A
// status mismatch after locking means another writer got there first and
// surfaces as models.ErrConflict.
func (s *Storage) ExecTransition(ctx context.Context, upd TransitionUpdate) (*models.Package, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM packages WHERE id = $1 FOR UPDATE`, upd.PackageID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock package")
	}
	if current != upd.StatusBefore {
		return nil, models.ErrConflict
	}

	now := upd.Now.UTC()
	_, err = tx.Exec(ctx, `
UPDATE packages
SET status = $2,
    condition = COALESCE($3, condition),
    posicion = COALESCE($4, posicion),
    guide_number = COALESCE($5, guide_number),
    base_fee = $6,
    storage_fee = $7,
    total_amount = $8,
    received_at = CASE WHEN $2 = 'RECIBIDO' THEN $9 ELSE received_at END,
    delivered_at = CASE WHEN $2 = 'ENTREGADO' THEN $9 ELSE delivered_at END,
    cancelled_at = CASE WHEN $2 = 'CANCELADO' THEN $9 ELSE cancelled_at END,
    updated_at = $9
WHERE id = $1
`, upd.PackageID, upd.NewStatus,
		upd.Condition, upd.Posicion, upd.GuideNumber,
		upd.BaseFee, upd.StorageFee, upd.TotalAmount,
		now)
	if err != nil {
		return nil, errors.Wrap(err, "update package")
	}

	upd.Event.PackageID = &upd.PackageID
	if err := insertEvent(ctx, tx, upd.Event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetPackageByID(ctx, upd.PackageID)
}
