package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutSession is the resumable draft of an order, addressed by Token.
type CheckoutSession struct {
	ID               string
	Token            string
	OwnerID          *string
	Items            []CartItem
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	Tax              decimal.Decimal
	Shipping         decimal.Decimal
	Total            decimal.Decimal
	PaymentGatewayID *int64
	CouponID         *int64
	CouponCode       *string
	BillingAddress   *Address
	DeliveryAddress  *Address
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CartKey is the cart this draft reads its items from.
func (s *CheckoutSession) CartKey() string {
	if s.OwnerID != nil {
		return UserCartKey(*s.OwnerID)
	}
	return GuestCartKey(s.Token)
}
