package model

import "time"

type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableCleaning    TableStatus = "cleaning"
	TableMaintenance TableStatus = "maintenance"
)

// Table is a read-mostly cache of the remote table record.
type Table struct {
	ID        int64       `json:"id"`
	Number    int         `json:"number"`
	Capacity  int         `json:"capacity"`
	Status    TableStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}
