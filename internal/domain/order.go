package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDispatched OrderStatus = "dispatched"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
)

var orderLifecycle = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusDispatched,
	OrderStatusDelivered,
	OrderStatusCompleted,
}

// CanAdvanceTo allows only the next step of the linear lifecycle.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	for i, st := range orderLifecycle {
		if st == s {
			return i+1 < len(orderLifecycle) && orderLifecycle[i+1] == next
		}
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

type OrderItem struct {
	ID        int64             `json:"id"`
	OrderID   int64             `json:"order_id"`
	ItemID    int64             `json:"item_id"`
	Kind      ItemKind          `json:"kind"`
	Name      string            `json:"name"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Quantity  int               `json:"quantity"`
	Total     decimal.Decimal   `json:"total"`
	Options   map[string]string `json:"options,omitempty"`
}

type Order struct {
	ID              int64           `json:"id"`
	OwnerID         *string         `json:"owner_id,omitempty"`
	StoreID         *int64          `json:"store_id,omitempty"`
	FullName        string          `json:"full_name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	DeliveryMethod  string          `json:"delivery_method"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	DeliveryAddress *Address        `json:"delivery_address,omitempty"`
	Status          OrderStatus     `json:"status"`
	CouponID        *int64          `json:"coupon_id,omitempty"`
	CouponCode      *string         `json:"coupon_code,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Items           []OrderItem     `json:"items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (i OrderItem) InventoryID() int64 {
	return CartItem{ItemID: i.ItemID, Kind: i.Kind, Options: i.Options}.InventoryID()
}
