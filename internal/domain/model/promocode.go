package model

import (
	"strings"
	"time"

	"vpn-subscription-store/internal/domain"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed" // value is kopecks off
)

// Promocode is a discount code with an optional expiry, usage cap and
// minimum order amount.
type Promocode struct {
	ID          string
	Code        string // stored upper-case
	Type        DiscountType
	Value       int64 // percent for percentage, kopecks for fixed
	MinAmount   int64 // kopecks, 0 = no minimum
	MaxUses     int   // 0 = unlimited
	CurrentUses int
	Active      bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Validate checks whether the code may be applied to an order of the
// given amount at the given time.
func (pc *Promocode) Validate(amount int64, now time.Time) error {
	if pc == nil || !pc.Active {
		return domain.ErrInvalidPromocode
	}
	if pc.ExpiresAt != nil && pc.ExpiresAt.Before(now) {
		return domain.ErrInvalidPromocode
	}
	if pc.MaxUses > 0 && pc.CurrentUses >= pc.MaxUses {
		return domain.ErrInvalidPromocode
	}
	if pc.MinAmount > 0 && amount < pc.MinAmount {
		return domain.ErrInvalidPromocode
	}
	return nil
}

// Apply computes the discounted amount in kopecks. Percentage discounts
// keep kopeck precision (199.00 at 10% -> 179.10); the result never
// drops below zero.
func (pc *Promocode) Apply(amount int64) int64 {
	var discount int64
	switch pc.Type {
	case DiscountPercentage:
		discount = amount * pc.Value / 100
	default:
		discount = pc.Value
	}
	if discount >= amount {
		return 0
	}
	return amount - discount
}

// NormalizeCode is what both lookup and storage use as the canonical form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
