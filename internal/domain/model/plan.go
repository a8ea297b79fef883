package model

import (
	"fmt"

	"vpn-subscription-store/internal/domain"
)

// Plan is a purchasable tariff with a fixed duration and a price in
// kopecks. The catalog is static; prices may be overridden at runtime
// through the plan_settings table.
type Plan struct {
	ID           string
	Name         string
	Price        int64 // kopecks
	DurationDays int
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, price int64, durationDays int) (*Plan, error) {
	if id == "" || name == "" || price <= 0 || durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{ID: id, Name: name, Price: price, DurationDays: durationDays}, nil
}

// FormatRub renders kopecks as the "199.00" decimal form providers expect.
func FormatRub(kopecks int64) string {
	return fmt.Sprintf("%d.%02d", kopecks/100, kopecks%100)
}
