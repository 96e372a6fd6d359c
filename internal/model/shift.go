package model

import "time"

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentQR   PaymentMethod = "qr"
)

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "open"
	ShiftClosed ShiftStatus = "closed"
)

// Shift carries the running totals for one cash drawer session. Totals are
// updated optimistically after each payment and reconciled on refresh.
type Shift struct {
	ID           int64                   `json:"id"`
	UserID       int64                   `json:"user_id"`
	StartingCash int64                   `json:"starting_cash"`
	EndingCash   int64                   `json:"ending_cash"`
	TotalSales   int64                   `json:"total_sales"`
	TotalTips    int64                   `json:"total_tips"`
	OrderCount   int                     `json:"order_count"`
	SalesByType  map[PaymentMethod]int64 `json:"sales_by_type,omitempty"`
	Status       ShiftStatus             `json:"status"`
	OpenedAt     time.Time               `json:"opened_at"`
	ClosedAt     *time.Time              `json:"closed_at,omitempty"`
}

// RecordPayment folds one completed payment into the running totals.
func (s *Shift) RecordPayment(method PaymentMethod, amount, tip int64) {
	s.TotalSales += amount
	s.TotalTips += tip
	s.OrderCount++
	if s.SalesByType == nil {
		s.SalesByType = make(map[PaymentMethod]int64)
	}
	s.SalesByType[method] += amount
}

// Payment is the payload submitted when settling an order.
type Payment struct {
	OrderID      int64         `json:"order_id"`
	Method       PaymentMethod `json:"method"`
	Amount       int64         `json:"amount"`
	Tip          int64         `json:"tip"`
	CashReceived int64         `json:"cash_received,omitempty"`
	Reference    string        `json:"reference,omitempty"`
	ProcessedBy  int64         `json:"processed_by,omitempty"`
}
