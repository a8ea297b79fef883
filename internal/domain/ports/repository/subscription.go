package repository

import (
	"context"

	"vpn-subscription-store/internal/domain/model"
)

type SubscriptionRepository interface {
	// Save inserts a grant. The payments back-reference carries a unique
	// index, so a racing double-insert for the same payment surfaces as
	// domain.ErrAlreadyExists rather than a second row.
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	CountActiveByPlan(ctx context.Context, tx Tx) (map[string]int, error)
}
