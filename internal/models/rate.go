package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RateTypePackageType = "package_type"
	RateTypeStorage     = "storage"
	RateTypeDelivery    = "delivery"
)

// Rate is one row of the versioned fee schedule. Superseded rates are
// deactivated, never deleted, so the full pricing history stays queryable.
type Rate struct {
	ID       uuid.UUID
	RateType string
	Name     string

	Description *string

	BasePrice        decimal.Decimal
	DailyStorageRate decimal.Decimal
	DeliveryRate     decimal.Decimal
	Multiplier       decimal.Decimal

	IsActive  bool
	ValidFrom time.Time
	ValidTo   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveAt reports whether the rate's validity window contains at.
// The window is [valid_from, valid_to); a NULL valid_to is open-ended.
func (r *Rate) EffectiveAt(at time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidFrom.After(at) {
		return false
	}
	return r.ValidTo == nil || r.ValidTo.After(at)
}

type RateCreateInput struct {
	RateType         string
	Name             string
	Description      *string
	BasePrice        decimal.Decimal
	DailyStorageRate decimal.Decimal
	DeliveryRate     decimal.Decimal
	Multiplier       decimal.Decimal
	ValidFrom        time.Time
}
