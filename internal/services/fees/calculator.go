package fees

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elclub/paqclub/internal/models"
)

type RateResolver interface {
	Resolve(ctx context.Context, rateType, name string, at time.Time) (*models.Rate, error)
}

// Breakdown is one computed fee set, rounded to two decimal places
// (amounts are COP). TotalAmount is always BaseFee + StorageFee +
// DeliveryFee; configured delivery rates are usually zero, the term is
// carried regardless.
type Breakdown struct {
	BaseFee     decimal.Decimal
	StorageFee  decimal.Decimal
	DeliveryFee decimal.Decimal
	StorageDays int32
	TotalAmount decimal.Decimal
}

type Calculator struct {
	rates RateResolver
}

func New(rates RateResolver) *Calculator {
	return &Calculator{rates: rates}
}

// StorageDays counts full 24h periods between reception and the given
// instant. Partial days do not bill; a clock running backwards yields 0.
func StorageDays(receivedAt, until time.Time) int32 {
	d := until.Sub(receivedAt)
	if d <= 0 {
		return 0
	}
	return int32(d / (24 * time.Hour))
}

// ForReception prices a package at intake: base price times the type
// multiplier plus the rate's delivery surcharge, no storage yet.
func (c *Calculator) ForReception(ctx context.Context, packageType string, at time.Time) (Breakdown, error) {
	rate, err := c.rates.Resolve(ctx, models.RateTypePackageType, packageType, at)
	if err != nil {
		return Breakdown{}, err
	}

	base := rate.BasePrice.Mul(rate.Multiplier).Round(2)
	return Breakdown{
		BaseFee:     base,
		StorageFee:  decimal.Zero,
		DeliveryFee: rate.DeliveryRate.Round(2),
		StorageDays: 0,
		TotalAmount: base.Add(rate.DeliveryRate).Round(2),
	}, nil
}

// ForDelivery prices a package at handover: the base fee plus storage for
// every full day since reception, plus the rate's delivery surcharge. The
// rate version in force at delivery time applies to the whole charge.
func (c *Calculator) ForDelivery(ctx context.Context, packageType string, receivedAt, at time.Time) (Breakdown, error) {
	rate, err := c.rates.Resolve(ctx, models.RateTypePackageType, packageType, at)
	if err != nil {
		return Breakdown{}, err
	}

	days := StorageDays(receivedAt, at)
	base := rate.BasePrice.Mul(rate.Multiplier).Round(2)
	storage := rate.DailyStorageRate.Mul(decimal.NewFromInt32(days)).Round(2)
	total := base.Add(storage).Add(rate.DeliveryRate).Round(2)

	return Breakdown{
		BaseFee:     base,
		StorageFee:  storage,
		DeliveryFee: rate.DeliveryRate.Round(2),
		StorageDays: days,
		TotalAmount: total,
	}, nil
}
