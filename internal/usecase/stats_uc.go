package usecase

import (
	"context"

	"vpn-subscription-store/internal/domain/ports/repository"
)

var _ StatsUseCase = (*statsUC)(nil)

// Stats is the admin dashboard aggregate.
type Stats struct {
	Users        int
	ActiveByPlan map[string]int
	RevenueDay   int64 // kopecks
	RevenueWeek  int64
	RevenueMonth int64
}

type StatsUseCase interface {
	Overview(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
}

func NewStatsUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, payments repository.PaymentRepository) *statsUC {
	return &statsUC{users: users, subs: subs, payments: payments}
}

func (u *statsUC) Overview(ctx context.Context) (*Stats, error) {
	users, err := u.users.CountUsers(ctx, nil)
	if err != nil {
		return nil, err
	}
	active, err := u.subs.CountActiveByPlan(ctx, nil)
	if err != nil {
		return nil, err
	}
	s := &Stats{Users: users, ActiveByPlan: active}
	for period, dst := range map[string]*int64{
		"day":   &s.RevenueDay,
		"week":  &s.RevenueWeek,
		"month": &s.RevenueMonth,
	} {
		sum, err := u.payments.SumByPeriod(ctx, nil, period)
		if err != nil {
			return nil, err
		}
		*dst = sum
	}
	return s, nil
}
