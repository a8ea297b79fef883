package model

import (
	"time"

	"vpn-subscription-store/internal/domain"
)

// Subscription is the provisioned deliverable of a completed payment:
// a VPN client credential plus its validity window. Rows are created
// exactly once per completed payment and never mutated.
type Subscription struct {
	ID        string // UUID
	UserID    string
	PlanID    string
	PaymentID string // unique back-reference to the payment that produced it
	VlessLink string // opaque credential payload from the provisioner
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSubscription validates and constructs a grant for a paid plan.
func NewSubscription(id, userID string, payment *Payment, plan *Plan, vlessLink string) (*Subscription, error) {
	if id == "" || userID == "" || payment == nil || plan == nil || vlessLink == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.ID,
		PaymentID: payment.ID,
		VlessLink: vlessLink,
		ExpiresAt: now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		CreatedAt: now,
	}, nil
}

// Expired is a read-time check; expired rows are kept, not deleted.
func (s *Subscription) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
