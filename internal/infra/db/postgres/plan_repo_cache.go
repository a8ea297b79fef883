package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/repository"
	"vpn-subscription-store/internal/infra/metrics"
	red "vpn-subscription-store/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

// planRepoCacheDecorator fronts the plan catalog with Redis so checkout
// creation does not hit plan_settings on every request.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient) repository.PlanRepository {
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	key := fmt.Sprintf("plan:%s", id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("plan", "hit")
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			return &plan, nil
		}
	} else if err != redis.Nil {
		return d.inner.FindByID(ctx, tx, id)
	}

	metrics.IncCacheRequest("plan", "miss")
	plan, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		bytes, _ := json.Marshal(plan)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return plan, nil
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	key := "plans:all"
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("plan_list", "hit")
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			return plans, nil
		}
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(plans); err == nil {
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return plans, nil
}

func (d *planRepoCacheDecorator) PriceOverride(ctx context.Context, tx repository.Tx, planID string) (int64, error) {
	return d.inner.PriceOverride(ctx, tx, planID)
}

// SetPriceOverride writes through and then invalidates both the
// single-plan entry and the full list. Invalidation must follow the
// write: a reader between the two would otherwise re-cache the old
// price for a full TTL.
func (d *planRepoCacheDecorator) SetPriceOverride(ctx context.Context, tx repository.Tx, planID string, price int64) error {
	if err := d.inner.SetPriceOverride(ctx, tx, planID, price); err != nil {
		return err
	}
	d.cache.Del(ctx, fmt.Sprintf("plan:%s", planID), "plans:all")
	return nil
}
