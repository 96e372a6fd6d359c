package model

import "time"

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MenuItem is the till-side copy of a menu entry. Prices are minor currency
// units (e.g. cents); InventoryCount is only meaningful when TrackInventory
// is set.
type MenuItem struct {
	ID             int64     `json:"id"`
	CategoryID     int64     `json:"category_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Price          int64     `json:"price"`
	Available      bool      `json:"available"`
	TrackInventory bool      `json:"track_inventory"`
	InventoryCount int       `json:"inventory_count"`
	MinimumStock   int       `json:"minimum_stock"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OutOfStock reports whether the item tracks inventory and has none left.
func (m MenuItem) OutOfStock() bool {
	return m.TrackInventory && m.InventoryCount <= 0
}

// LowStock reports whether the item tracks inventory and sits at or below
// its minimum stock threshold.
func (m MenuItem) LowStock() bool {
	return m.TrackInventory && m.InventoryCount <= m.MinimumStock
}
