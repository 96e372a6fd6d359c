package model

// BusinessSettings holds venue-wide configuration fetched once at startup.
// TaxRateBps is a tax rate in basis points; it is currently zero for every
// deployment but the totals math carries it.
type BusinessSettings struct {
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	TaxRateBps   int64  `json:"tax_rate_bps"`
	ReceiptNote  string `json:"receipt_note,omitempty"`
	OpeningHours string `json:"opening_hours,omitempty"`
}
