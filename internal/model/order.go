package model

import "time"

type OrderType string

const (
	OrderDineIn   OrderType = "dine_in"
	OrderTakeaway OrderType = "takeaway"
	OrderDelivery OrderType = "delivery"
	OrderBar      OrderType = "bar"
)

type OrderStatus string

const (
	OrderOpen          OrderStatus = "open"
	OrderSentToKitchen OrderStatus = "sent_to_kitchen"
	OrderPreparing     OrderStatus = "preparing"
	OrderReady         OrderStatus = "ready"
	OrderPaid          OrderStatus = "paid"
	OrderCancelled     OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

var orderStatusRank = map[OrderStatus]int{
	OrderOpen:          0,
	OrderSentToKitchen: 1,
	OrderPreparing:     2,
	OrderReady:         3,
	OrderPaid:          4,
}

// CanTransitionTo reports whether next is a legal successor of s. Cancelled
// is reachable from any non-terminal status; the rest advance strictly
// forward.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrderCancelled {
		return true
	}
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type OrderItem struct {
	ID                  int64    `json:"id"`
	MenuItemID          int64    `json:"menu_item_id"`
	Name                string   `json:"name"`
	Quantity            int      `json:"quantity"`
	UnitPrice           int64    `json:"unit_price"`
	TotalPrice          int64    `json:"total_price"`
	Modifiers           []string `json:"modifiers,omitempty"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

type Order struct {
	ID                 int64        `json:"id"`
	OrderNumber        string       `json:"order_number"`
	Type               OrderType    `json:"type"`
	TableID            *int64       `json:"table_id,omitempty"`
	Status             OrderStatus  `json:"status"`
	Items              []OrderItem  `json:"items"`
	CustomerName       string       `json:"customer_name,omitempty"`
	Subtotal           int64        `json:"subtotal"`
	DiscountType       DiscountType `json:"discount_type"`
	DiscountValue      int64        `json:"discount_value"`
	DiscountAmount     int64        `json:"discount_amount"`
	TaxAmount          int64        `json:"tax_amount"`
	Total              int64        `json:"total"`
	CancellationReason string       `json:"cancellation_reason,omitempty"`
	CreatedBy          int64        `json:"created_by"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ForTable reports whether the order is bound to the given table.
func (o Order) ForTable(tableID int64) bool {
	return o.TableID != nil && *o.TableID == tableID
}
