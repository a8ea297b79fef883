package repository

import (
	"context"

	"vpn-subscription-store/internal/domain/model"
)

type PromocodeRepository interface {
	Save(ctx context.Context, tx Tx, pc *model.Promocode) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Promocode, error)
	// IncrementUses bumps current_uses; called once per order that applied
	// the code.
	IncrementUses(ctx context.Context, tx Tx, id string) error
	ListActive(ctx context.Context, tx Tx) ([]*model.Promocode, error)
}
