package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	ItemKindInventory ItemKind = "inventory"
	ItemKindVariant   ItemKind = "variant"
)

func (k ItemKind) Valid() bool {
	return k == ItemKindInventory || k == ItemKindVariant
}

// OptionInventoryID links a cart line to the concrete stock unit it draws from.
const OptionInventoryID = "inventory_id"

type CartItem struct {
	RowID     string            `json:"row_id"`
	ItemID    int64             `json:"item_id"`
	Kind      ItemKind          `json:"kind"`
	Name      string            `json:"name"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options,omitempty"`
	AddedAt   time.Time         `json:"added_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// InventoryID returns the stock unit referenced by the option bag, or 0.
func (i CartItem) InventoryID() int64 {
	if i.Kind == ItemKindInventory && i.Options[OptionInventoryID] == "" {
		return i.ItemID
	}
	id, err := strconv.ParseInt(i.Options[OptionInventoryID], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Cart is keyed by OwnerKey: "user:<id>" for authenticated callers, "guest:<token>" otherwise.
type Cart struct {
	OwnerKey  string     `json:"owner_key"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

var rowNamespace = uuid.MustParse("7c4a1f3e-2b1d-4c57-9a43-1d5f0c8e6b21")

// RowID is stable for the same item configured with the same options.
func RowID(kind ItemKind, itemID int64, options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(itemID, 10))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(options[k])
	}
	return uuid.NewSHA1(rowNamespace, []byte(b.String())).String()
}

func UserCartKey(userID string) string { return "user:" + userID }

func GuestCartKey(token string) string { return "guest:" + token }
