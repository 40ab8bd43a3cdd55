package rates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/elclub/paqclub/internal/models"
)

type Repository interface {
	CreateRate(ctx context.Context, in models.RateCreateInput) (*models.Rate, error)
	ListEffectiveRates(ctx context.Context, rateType, name string, at time.Time) ([]*models.Rate, error)
	ListRates(ctx context.Context, rateType string) ([]*models.Rate, error)
	DeactivateRate(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func validRateType(rt string) bool {
	switch rt {
	case models.RateTypePackageType, models.RateTypeStorage, models.RateTypeDelivery:
		return true
	}
	return false
}

func (s *Service) Create(ctx context.Context, in models.RateCreateInput) (*models.Rate, error) {
	if !validRateType(in.RateType) {
		return nil, errors.Errorf("unknown rate type %q", in.RateType)
	}
	if in.Name == "" {
		return nil, errors.New("name is required")
	}
	if in.BasePrice.IsNegative() {
		return nil, errors.New("basePrice must not be negative")
	}
	if in.DailyStorageRate.IsNegative() {
		return nil, errors.New("dailyStorageRate must not be negative")
	}
	if in.DeliveryRate.IsNegative() {
		return nil, errors.New("deliveryRate must not be negative")
	}
	if in.Multiplier.IsZero() {
		in.Multiplier = decimal.NewFromInt(1)
	}
	if in.Multiplier.IsNegative() {
		return nil, errors.New("multiplier must be positive")
	}
	if in.ValidFrom.IsZero() {
		in.ValidFrom = time.Now().UTC()
	}

	return s.repo.CreateRate(ctx, in)
}

// Resolve picks the rate in force for (rateType, name) at the given
// instant. When validity windows overlap, the version with the latest
// valid_from wins; creation time breaks exact ties.
func (s *Service) Resolve(ctx context.Context, rateType, name string, at time.Time) (*models.Rate, error) {
	candidates, err := s.repo.ListEffectiveRates(ctx, rateType, name, at)
	if err != nil {
		return nil, err
	}

	var winner *models.Rate
	for _, r := range candidates {
		if !r.EffectiveAt(at) {
			continue
		}
		if winner == nil {
			winner = r
			continue
		}
		if r.ValidFrom.After(winner.ValidFrom) ||
			(r.ValidFrom.Equal(winner.ValidFrom) && r.CreatedAt.After(winner.CreatedAt)) {
			winner = r
		}
	}
	if winner == nil {
		return nil, &models.RateNotConfiguredError{RateType: rateType, Name: name}
	}
	return winner, nil
}

func (s *Service) List(ctx context.Context, rateType string) ([]*models.Rate, error) {
	if rateType != "" && !validRateType(rateType) {
		return nil, errors.Errorf("unknown rate type %q", rateType)
	}
	return s.repo.ListRates(ctx, rateType)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("id is required")
	}
	return s.repo.DeactivateRate(ctx, id)
}
