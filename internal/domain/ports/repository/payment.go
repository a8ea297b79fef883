package repository

import (
	"context"
	"time"

	"vpn-subscription-store/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Payment, error)
	SetExternalID(ctx context.Context, tx Tx, id, externalID string) error

	// UpdateStatusIfPending is the compare-and-set primitive the order state
	// machine is built on: the status is written only when the stored status
	// is still 'pending'. Returns false when another caller won the race.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus) (bool, error)

	// FindPendingByAmountSince is the best-effort fallback matcher for
	// notifications that carry no reliable order reference: the most recent
	// pending payment with exactly this amount created after `since`.
	FindPendingByAmountSince(ctx context.Context, tx Tx, amount int64, since time.Time) (*model.Payment, error)

	// ListPendingOlderThan feeds the reconciliation sweep.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// ListCompletedWithoutSubscription returns paid orders whose provisioning
	// step has not produced a grant yet (the self-healing retry set).
	ListCompletedWithoutSubscription(ctx context.Context, tx Tx, limit int) ([]*model.Payment, error)

	SumByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
