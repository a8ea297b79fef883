package usecase

import (
	"context"
	"time"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/repository"
)

var _ PromocodeUseCase = (*promocodeUC)(nil)

// DiscountPreview is what the checkout page shows before the order exists.
type DiscountPreview struct {
	Code           string
	OriginalAmount int64
	FinalAmount    int64
	Discount       int64
}

type PromocodeUseCase interface {
	// Preview validates a code against an order amount without consuming a
	// use. Returns domain.ErrInvalidPromocode for unknown, expired,
	// exhausted or below-minimum codes.
	Preview(ctx context.Context, code string, amount int64) (*DiscountPreview, error)
	Create(ctx context.Context, pc *model.Promocode) error
	ListActive(ctx context.Context) ([]*model.Promocode, error)
}

type promocodeUC struct {
	promos repository.PromocodeRepository
}

func NewPromocodeUseCase(promos repository.PromocodeRepository) *promocodeUC {
	return &promocodeUC{promos: promos}
}

func (u *promocodeUC) Preview(ctx context.Context, code string, amount int64) (*DiscountPreview, error) {
	if code == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	pc, err := u.promos.FindByCode(ctx, nil, code)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, domain.ErrInvalidPromocode
		}
		return nil, err
	}
	if err := pc.Validate(amount, time.Now()); err != nil {
		return nil, err
	}
	final := pc.Apply(amount)
	return &DiscountPreview{
		Code:           pc.Code,
		OriginalAmount: amount,
		FinalAmount:    final,
		Discount:       amount - final,
	}, nil
}

func (u *promocodeUC) Create(ctx context.Context, pc *model.Promocode) error {
	if pc == nil || pc.Code == "" || pc.Value <= 0 {
		return domain.ErrInvalidArgument
	}
	if pc.Type != model.DiscountPercentage && pc.Type != model.DiscountFixed {
		return domain.ErrInvalidArgument
	}
	if pc.Type == model.DiscountPercentage && pc.Value > 100 {
		return domain.ErrInvalidArgument
	}
	pc.Code = model.NormalizeCode(pc.Code)
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now()
	}
	return u.promos.Save(ctx, nil, pc)
}

func (u *promocodeUC) ListActive(ctx context.Context) ([]*model.Promocode, error) {
	return u.promos.ListActive(ctx, nil)
}
