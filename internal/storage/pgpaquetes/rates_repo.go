package pgpaquetes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

const rateColumns = `
  id, rate_type, name, description,
  base_price, daily_storage_rate, delivery_rate, multiplier,
  is_active, valid_from, valid_to,
  created_at, updated_at
`

func scanRate(row rowScanner) (*models.Rate, error) {
	var r models.Rate
	err := row.Scan(
		&r.ID, &r.RateType, &r.Name, &r.Description,
		&r.BasePrice, &r.DailyStorageRate, &r.DeliveryRate, &r.Multiplier,
		&r.IsActive, &r.ValidFrom, &r.ValidTo,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRate inserts a new rate version and closes out any still-open
// predecessor for the same (rate_type, name) in the same transaction, so
// the schedule never gains two open-ended versions of one rate.
func (s *Storage) CreateRate(ctx context.Context, in models.RateCreateInput) (*models.Rate, error) {
	now := time.Now().UTC()
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE rates
SET valid_to = $3, updated_at = $4
WHERE rate_type = $1 AND name = $2 AND is_active AND valid_to IS NULL AND valid_from < $3
`, in.RateType, in.Name, in.ValidFrom.UTC(), now)
	if err != nil {
		return nil, errors.Wrap(err, "close predecessor rates")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO rates (
  id, rate_type, name, description,
  base_price, daily_storage_rate, delivery_rate, multiplier,
  is_active, valid_from, valid_to, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE,$9,NULL,$10,$10)
`, id, in.RateType, in.Name, in.Description,
		in.BasePrice, in.DailyStorageRate, in.DeliveryRate, in.Multiplier,
		in.ValidFrom.UTC(), now)
	if err != nil {
		return nil, errors.Wrap(err, "insert rate")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetRateByID(ctx, id)
}

func (s *Storage) GetRateByID(ctx context.Context, id uuid.UUID) (*models.Rate, error) {
	r, err := scanRate(s.db.QueryRow(ctx, `SELECT `+rateColumns+` FROM rates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select rate")
	}
	return r, nil
}

// ListEffectiveRates returns every active rate whose validity window
// contains at. Overlap resolution (latest valid_from wins) is the rates
// service's job, not the storage layer's.
func (s *Storage) ListEffectiveRates(ctx context.Context, rateType, name string, at time.Time) ([]*models.Rate, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+rateColumns+`
FROM rates
WHERE rate_type = $1 AND name = $2 AND is_active
  AND valid_from <= $3
  AND (valid_to IS NULL OR valid_to > $3)
ORDER BY valid_from DESC, created_at DESC
`, rateType, name, at.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select effective rates")
	}
	defer rows.Close()

	var out []*models.Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rate")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListRates(ctx context.Context, rateType string) ([]*models.Rate, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+rateColumns+`
FROM rates
WHERE ($1 = '' OR rate_type = $1)
ORDER BY rate_type, name, valid_from DESC
`, rateType)
	if err != nil {
		return nil, errors.Wrap(err, "select rates")
	}
	defer rows.Close()

	var out []*models.Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rate")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeactivateRate retires a rate version without deleting it.
func (s *Storage) DeactivateRate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE rates SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deactivate rate")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
