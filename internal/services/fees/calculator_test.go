package fees

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elclub/paqclub/internal/models"
)

type fakeResolver struct {
	rate *models.Rate
	err  error
}

func (r fakeResolver) Resolve(ctx context.Context, rateType, name string, at time.Time) (*models.Rate, error) {
	return r.rate, r.err
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestStorageDays(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.Equal(t, int32(0), StorageDays(base, base))
	require.Equal(t, int32(0), StorageDays(base, base.Add(23*time.Hour)))
	require.Equal(t, int32(1), StorageDays(base, base.Add(24*time.Hour)))
	require.Equal(t, int32(1), StorageDays(base, base.Add(47*time.Hour)))
	require.Equal(t, int32(3), StorageDays(base, base.Add(72*time.Hour)))
	require.Equal(t, int32(0), StorageDays(base, base.Add(-time.Hour)), "backwards clock never bills")
}

func TestCalculator_ForReception(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:        dec("1500.00"),
		DailyStorageRate: dec("1000.00"),
		Multiplier:       dec("1.00"),
	}})

	bd, err := c.ForReception(context.Background(), models.PackageTypeNormal, time.Now())
	require.NoError(t, err)
	require.True(t, bd.BaseFee.Equal(dec("1500.00")))
	require.True(t, bd.StorageFee.IsZero())
	require.True(t, bd.DeliveryFee.IsZero())
	require.Equal(t, int32(0), bd.StorageDays)
	require.True(t, bd.TotalAmount.Equal(dec("1500.00")))
}

func TestCalculator_ForReception_DeliverySurcharge(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:        dec("1800.00"),
		DailyStorageRate: dec("1000.00"),
		DeliveryRate:     dec("250.00"),
		Multiplier:       dec("1.00"),
	}})

	bd, err := c.ForReception(context.Background(), models.PackageTypeNormal, time.Now())
	require.NoError(t, err)
	require.True(t, bd.BaseFee.Equal(dec("1800.00")), "base %s", bd.BaseFee)
	require.True(t, bd.DeliveryFee.Equal(dec("250.00")), "delivery %s", bd.DeliveryFee)
	require.True(t, bd.TotalAmount.Equal(bd.BaseFee.Add(bd.StorageFee).Add(bd.DeliveryFee)), "total %s", bd.TotalAmount)
	require.True(t, bd.TotalAmount.Equal(dec("2050.00")), "total %s", bd.TotalAmount)
}

func TestCalculator_ForReception_Multiplier(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:  dec("1500.00"),
		Multiplier: dec("1.50"),
	}})

	bd, err := c.ForReception(context.Background(), models.PackageTypeExtraDimensionado, time.Now())
	require.NoError(t, err)
	require.True(t, bd.BaseFee.Equal(dec("2250.00")))
}

func TestCalculator_ForDelivery_ThreeStorageDays(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:        dec("1800.00"),
		DailyStorageRate: dec("1000.00"),
		DeliveryRate:     dec("0.00"),
		Multiplier:       dec("1.00"),
	}})

	received := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	delivered := received.Add(72 * time.Hour)

	bd, err := c.ForDelivery(context.Background(), models.PackageTypeNormal, received, delivered)
	require.NoError(t, err)
	require.True(t, bd.BaseFee.Equal(dec("1800.00")), "base %s", bd.BaseFee)
	require.True(t, bd.StorageFee.Equal(dec("3000.00")), "storage %s", bd.StorageFee)
	require.Equal(t, int32(3), bd.StorageDays)
	require.True(t, bd.TotalAmount.Equal(dec("4800.00")), "total %s", bd.TotalAmount)
}

func TestCalculator_ForDelivery_SameDay(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:        dec("2000.00"),
		DailyStorageRate: dec("1000.00"),
		Multiplier:       dec("1.00"),
	}})

	received := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	bd, err := c.ForDelivery(context.Background(), models.PackageTypeExtraDimensionado, received, received.Add(6*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int32(0), bd.StorageDays)
	require.True(t, bd.TotalAmount.Equal(dec("2000.00")))
}

func TestCalculator_ForDelivery_DeliverySurcharge(t *testing.T) {
	c := New(fakeResolver{rate: &models.Rate{
		BasePrice:        dec("1500.00"),
		DailyStorageRate: dec("1000.00"),
		DeliveryRate:     dec("500.00"),
		Multiplier:       dec("1.00"),
	}})

	received := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	bd, err := c.ForDelivery(context.Background(), models.PackageTypeNormal, received, received.Add(24*time.Hour))
	require.NoError(t, err)
	require.True(t, bd.DeliveryFee.Equal(dec("500.00")))
	require.True(t, bd.TotalAmount.Equal(dec("3000.00")))
}

func TestCalculator_RateNotConfigured(t *testing.T) {
	want := &models.RateNotConfiguredError{RateType: models.RateTypePackageType, Name: "NORMAL"}
	c := New(fakeResolver{err: want})

	_, err := c.ForReception(context.Background(), models.PackageTypeNormal, time.Now())
	var got *models.RateNotConfiguredError
	require.ErrorAs(t, err, &got)

	_, err = c.ForDelivery(context.Background(), models.PackageTypeNormal, time.Now(), time.Now())
	require.ErrorAs(t, err, &got)
}
