package model

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
	RoleWaiter  Role = "waiter"
)

// CanOrderWithoutShift reports whether the role may create orders while no
// shift is open.
func (r Role) CanOrderWithoutShift() bool {
	return r == RoleAdmin || r == RoleManager
}

type User struct {
	ID        int64     `json:"id"`
	StaffID   string    `json:"staff_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
