package model

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount applies to the whole cart subtotal. Value is a whole percentage
// for DiscountPercentage and minor currency units for DiscountFixed.
type Discount struct {
	Type  DiscountType `json:"type"`
	Value int64        `json:"value"`
}

// Amount returns the discount in minor currency units, floored, clamped to
// the subtotal.
func (d Discount) Amount(subtotal int64) int64 {
	var amount int64
	switch d.Type {
	case DiscountPercentage:
		amount = subtotal * d.Value / 100
	case DiscountFixed:
		amount = d.Value
	default:
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// CartItem is a local, unpersisted order line. ID is generated per insertion
// and never collides across adds, even of the same menu item.
type CartItem struct {
	ID                  string   `json:"id"`
	MenuItemID          int64    `json:"menu_item_id"`
	Name                string   `json:"name"`
	Quantity            int      `json:"quantity"`
	UnitPrice           int64    `json:"unit_price"`
	TotalPrice          int64    `json:"total_price"`
	Modifiers           []string `json:"modifiers,omitempty"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// Subtotal sums line totals of the given cart.
func Subtotal(items []CartItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.TotalPrice
	}
	return sum
}
