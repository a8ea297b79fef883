package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // order created; user may be on the hosted checkout page
	PaymentStatusCompleted PaymentStatus = "completed" // provider confirmed the charge
	PaymentStatusFailed    PaymentStatus = "failed"    // cancelled, expired or abandoned
)

// Payment is one attempted purchase, kept forever as an audit ledger row.
// Amounts are in kopecks (minor units) to avoid float errors; the
// "199.00" form exists only at the gateway boundary.
type Payment struct {
	ID             string // ULID, time-sortable
	UserID         string
	PlanID         string
	Provider       string // e.g. "yookassa", "robokassa"
	Amount         int64  // kopecks, after discount
	OriginalAmount int64  // kopecks before discount; 0 when no discount applied
	Promocode      string // applied code, empty when none
	ExternalID     string // provider-assigned payment id, set after checkout creation
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the payment can never change status again.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}
