package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

type Coupon struct {
	ID             int64
	Code           string
	Type           CouponType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxUses        *int
	UsedCount      int
	Active         bool
	StartsAt       *time.Time
	ExpiresAt      *time.Time
}

// Usable reports whether the coupon can be redeemed at the given instant.
func (c *Coupon) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return false
	}
	return true
}
