package repository

import (
	"context"

	"vpn-subscription-store/internal/domain/model"
)

// PlanRepository serves the static catalog plus runtime price overrides
// from the plan_settings table.
type PlanRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Plan, error)
	// PriceOverride returns (0, domain.ErrNotFound) when no override exists.
	PriceOverride(ctx context.Context, tx Tx, planID string) (int64, error)
	SetPriceOverride(ctx context.Context, tx Tx, planID string, price int64) error
}
