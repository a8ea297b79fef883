package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-store/internal/config"
	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*planRepo)(nil)

// planRepo serves the static plan catalog from configuration and keeps
// per-plan price overrides in the plan_settings table.
type planRepo struct {
	pool  *pgxpool.Pool
	plans map[string]model.Plan
}

func NewPlanRepo(pool *pgxpool.Pool, cfgPlans []config.PlanConfig) *planRepo {
	plans := make(map[string]model.Plan, len(cfgPlans))
	for _, p := range cfgPlans {
		plans[p.ID] = model.Plan{ID: p.ID, Name: p.Name, Price: p.Price, DurationDays: p.DurationDays}
	}
	return &planRepo{pool: pool, plans: plans}
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrInvalidPlan
	}
	if price, err := r.PriceOverride(ctx, tx, id); err == nil {
		p.Price = price
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &p, nil
}

func (r *planRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	out := make([]*model.Plan, 0, len(r.plans))
	for id := range r.plans {
		p, err := r.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (r *planRepo) PriceOverride(ctx context.Context, tx repository.Tx, planID string) (int64, error) {
	const q = `SELECT price FROM plan_settings WHERE plan_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, planID)
	if err != nil {
		return 0, err
	}
	var price int64
	if err := row.Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return price, nil
}

func (r *planRepo) SetPriceOverride(ctx context.Context, tx repository.Tx, planID string, price int64) error {
	if _, ok := r.plans[planID]; !ok {
		return domain.ErrInvalidPlan
	}
	if price <= 0 {
		return domain.ErrInvalidAmount
	}
	const q = `
INSERT INTO plan_settings (plan_id, price, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (plan_id) DO UPDATE SET price=EXCLUDED.price, updated_at=NOW();`
	if _, err := execSQL(ctx, r.pool, tx, q, planID, price); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}
