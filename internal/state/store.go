// Package state holds the terminal's shared application state: the read-write
// caches of remote collections, the local cart, and the current session. All
// mutation goes through Store methods; observers subscribe for change
// notifications instead of closing over the data.
package state

import (
	"slices"
	"sync"
	"time"

	"github.com/harborpos/till/internal/model"
)

// Change names a slice of state that was mutated.
type Change string

const (
	ChangedMenuItems  Change = "menuItems"
	ChangedCategories Change = "categories"
	ChangedTables     Change = "tables"
	ChangedOrders     Change = "orders"
	ChangedUsers      Change = "users"
	ChangedSettings   Change = "businessSettings"
	ChangedCart       Change = "cart"
	ChangedSession    Change = "session"
	ChangedShift      Change = "shift"
)

// Store is the single owner of shared terminal state. Remote collections are
// last-write-wins caches; cart, discount, table selection, and session are
// authoritative locally.
type Store struct {
	mu sync.RWMutex

	menuItems  []model.MenuItem
	categories []model.Category
	tables     []model.Table
	orders     []model.Order
	users      []model.User
	settings   model.BusinessSettings

	cart          []model.CartItem
	discount      model.Discount
	selectedTable *int64

	user         *model.User
	shift        *model.Shift
	lastActivity time.Time

	subs map[int]chan Change
	next int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		discount: model.Discount{Type: model.DiscountNone},
		subs:     make(map[int]chan Change),
	}
}

// Subscribe returns a buffered change channel and a cancel function.
// Notifications are dropped, not blocked on, when a subscriber lags.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan Change, 32)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// notify must be called with s.mu held.
func (s *Store) notify(c Change) {
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// --- remote collections (last write wins) ---

func (s *Store) SetMenuItems(items []model.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menuItems = items
	s.notify(ChangedMenuItems)
}

func (s *Store) MenuItems() []model.MenuItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.menuItems)
}

func (s *Store) MenuItemByID(id int64) (model.MenuItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.menuItems {
		if m.ID == id {
			return m, true
		}
	}
	return model.MenuItem{}, false
}

func (s *Store) SetCategories(cats []model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = cats
	s.notify(ChangedCategories)
}

func (s *Store) Categories() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories)
}

func (s *Store) SetTables(tables []model.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = tables
	s.notify(ChangedTables)
}

func (s *Store) Tables() []model.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tables)
}

func (s *Store) SetOrders(orders []model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
	s.notify(ChangedOrders)
}

func (s *Store) Orders() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.orders)
}

func (s *Store) OrderByID(id int64) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return model.Order{}, false
}

// OpenOrderForTable returns the non-terminal order bound to the table, if any.
func (s *Store) OpenOrderForTable(tableID int64) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ForTable(tableID) && !o.Status.Terminal() {
			return o, true
		}
	}
	return model.Order{}, false
}

// UpsertOrder replaces the order with the same id, or appends it. Used for
// optimistic local mutation ahead of the next authoritative refresh.
func (s *Store) UpsertOrder(order model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.orders {
		if o.ID == order.ID {
			s.orders[i] = order
			s.notify(ChangedOrders)
			return
		}
	}
	s.orders = append(s.orders, order)
	s.notify(ChangedOrders)
}

// PatchOrder applies fn to the order with the given id, if present.
func (s *Store) PatchOrder(id int64, fn func(*model.Order)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			fn(&s.orders[i])
			s.notify(ChangedOrders)
			return true
		}
	}
	return false
}

func (s *Store) SetUsers(users []model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.notify(ChangedUsers)
}

func (s *Store) Users() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.users)
}

func (s *Store) SetSettings(settings model.BusinessSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.notify(ChangedSettings)
}

func (s *Store) Settings() model.BusinessSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// --- cart ---

func (s *Store) Cart() []model.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cart)
}

func (s *Store) SetCart(items []model.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = items
	s.notify(ChangedCart)
}

func (s *Store) AppendCartItem(item model.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = append(s.cart, item)
	s.notify(ChangedCart)
}

// MutateCart runs fn on the live cart slice and stores the result.
func (s *Store) MutateCart(fn func([]model.CartItem) []model.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = fn(s.cart)
	s.notify(ChangedCart)
}

func (s *Store) Discount() model.Discount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discount
}

func (s *Store) SetDiscount(d model.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = d
	s.notify(ChangedCart)
}

func (s *Store) SelectedTable() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedTable == nil {
		return 0, false
	}
	return *s.selectedTable, true
}

func (s *Store) SelectTable(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTable = &id
	s.notify(ChangedCart)
}

func (s *Store) DeselectTable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTable = nil
	s.notify(ChangedCart)
}

// ClearCart empties the cart and resets discount and table selection. Safe to
// call repeatedly.
func (s *Store) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
	s.discount = model.Discount{Type: model.DiscountNone}
	s.selectedTable = nil
	s.notify(ChangedCart)
}

// --- session ---

func (s *Store) SetSession(user model.User, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	s.lastActivity = now
	s.notify(ChangedSession)
}

func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.shift = nil
	s.notify(ChangedSession)
}

func (s *Store) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

func (s *Store) SetShift(shift *model.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shift = shift
	s.notify(ChangedShift)
}

func (s *Store) Shift() (model.Shift, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shift == nil {
		return model.Shift{}, false
	}
	return *s.shift, true
}

// MutateShift runs fn on the current shift, if one is set.
func (s *Store) MutateShift(fn func(*model.Shift)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shift == nil {
		return false
	}
	fn(s.shift)
	s.notify(ChangedShift)
	return true
}

// Touch records user activity for the inactivity timeout.
func (s *Store) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *Store) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}
