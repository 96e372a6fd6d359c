// Package cart implements the order engine: cart contents, discount math,
// inventory validation, order creation with merge-on-create, and the
// payment/cancellation transitions. Validation failures are local and
// non-fatal; remote failures leave local state untouched except for the
// explicitly optimistic paths (payment, cancellation), which the next poll
// reconciles.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborpos/till/internal/loader"
	"github.com/harborpos/till/internal/model"
	"github.com/harborpos/till/internal/posapi"
	"github.com/harborpos/till/internal/state"
)

var (
	ErrNoSession         = errors.New("cart: not logged in")
	ErrEmptyCart         = errors.New("cart: cart is empty")
	ErrNoTable           = errors.New("cart: dine-in orders need a selected table")
	ErrNoShift           = errors.New("cart: an open shift is required")
	ErrItemUnavailable   = errors.New("cart: item is unavailable")
	ErrInsufficientStock = errors.New("cart: not enough stock")
	ErrInvalidDiscount   = errors.New("cart: invalid discount")
	ErrOrderClosed       = errors.New("cart: order is already settled or cancelled")
	ErrBadTransition     = errors.New("cart: illegal order status transition")
)

// Remote is the subset of the POS client the engine needs.
type Remote interface {
	CreateOrder(ctx context.Context, payload posapi.CreateOrderRequest) (model.Order, error)
	AddItemsToOrder(ctx context.Context, orderID int64, items []model.CartItem, userID int64) (model.Order, error)
	RemoveItemFromOrder(ctx context.Context, orderID, itemID, userID int64) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, userID int64) (model.Order, error)
	CancelOrder(ctx context.Context, orderID, userID int64, reason string) (model.Order, error)
	ProcessPayment(ctx context.Context, orderID int64, payment model.Payment) (model.Order, error)
	Order(ctx context.Context, id int64) (model.Order, error)
	PrintInvoice(ctx context.Context, orderID int64) error
}

// Refresher schedules authoritative re-fetches after mutations.
type Refresher interface {
	Refresh(ctx context.Context, domains ...loader.Domain) error
	InvalidateMenu()
}

// ShiftRecorder feeds settled payments into the active shift.
type ShiftRecorder interface {
	RecordPayment(ctx context.Context, orderID int64, method model.PaymentMethod, amount, tip int64)
}

// Broadcaster signals other terminals that stock counts changed.
type Broadcaster interface {
	PublishInventoryUpdated()
}

// Engine owns cart and order mutations.
type Engine struct {
	remote    Remote
	loader    Refresher
	store     *state.Store
	shifts    ShiftRecorder
	broadcast Broadcaster
	logger    *slog.Logger

	refreshDelay time.Duration
	newID        func() string
}

// New creates the engine. shifts and broadcast may be nil; a nil logger falls
// back to slog.Default.
func New(remote Remote, ld Refresher, st *state.Store, shifts ShiftRecorder, broadcast Broadcaster, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		remote:       remote,
		loader:       ld,
		store:        st,
		shifts:       shifts,
		broadcast:    broadcast,
		logger:       logger.With("component", "cart"),
		refreshDelay: 500 * time.Millisecond,
		newID:        uuid.NewString,
	}
}

// Totals is the cart total breakdown. Discount applies before tax; the tax
// rate comes from business settings and is currently zero everywhere.
type Totals struct {
	Subtotal       int64
	DiscountAmount int64
	TaxAmount      int64
	Total          int64
}

// Totals computes the current cart totals.
func (e *Engine) Totals() Totals {
	return e.totalsFor(e.store.Cart(), e.store.Discount())
}

func (e *Engine) totalsFor(items []model.CartItem, discount model.Discount) Totals {
	subtotal := model.Subtotal(items)
	discountAmount := discount.Amount(subtotal)
	taxable := subtotal - discountAmount
	tax := taxable * e.store.Settings().TaxRateBps / 10000
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TaxAmount:      tax,
		Total:          taxable + tax,
	}
}

// AddToCart adds one unit of the menu item as a new cart line. It fails when
// the item is missing, unavailable, or out of tracked stock; lowStock reports
// that the item is at or below its minimum stock threshold.
func (e *Engine) AddToCart(menuItemID int64, modifiers []string, instructions string) (item model.CartItem, lowStock bool, err error) {
	menuItem, ok := e.store.MenuItemByID(menuItemID)
	if !ok || !menuItem.Available {
		return model.CartItem{}, false, fmt.Errorf("%w: item %d", ErrItemUnavailable, menuItemID)
	}
	if menuItem.OutOfStock() {
		return model.CartItem{}, false, fmt.Errorf("%w: %s is out of stock", ErrItemUnavailable, menuItem.Name)
	}

	item = model.CartItem{
		ID:                  e.newID(),
		MenuItemID:          menuItem.ID,
		Name:                menuItem.Name,
		Quantity:            1,
		UnitPrice:           menuItem.Price,
		TotalPrice:          menuItem.Price,
		Modifiers:           modifiers,
		SpecialInstructions: instructions,
	}
	e.store.AppendCartItem(item)

	if menuItem.LowStock() {
		e.logger.Warn("item at or below minimum stock", "item", menuItem.Name, "count", menuItem.InventoryCount)
		lowStock = true
	}
	return item, lowStock, nil
}

// UpdateCartItem changes a line's quantity and, when instructions is non-nil,
// its special instructions. A quantity of zero or less removes the line.
func (e *Engine) UpdateCartItem(id string, quantity int, instructions *string) {
	e.store.MutateCart(func(items []model.CartItem) []model.CartItem {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			if quantity <= 0 {
				return append(items[:i], items[i+1:]...)
			}
			items[i].Quantity = quantity
			items[i].TotalPrice = items[i].UnitPrice * int64(quantity)
			if instructions != nil {
				items[i].SpecialInstructions = *instructions
			}
			break
		}
		return items
	})
}

// RemoveCartItem deletes a line. Removing an unknown id is a no-op.
func (e *Engine) RemoveCartItem(id string) {
	e.UpdateCartItem(id, 0, nil)
}

// ClearCart empties the cart, discount, and table selection. Safe to call
// repeatedly.
func (e *Engine) ClearCart() {
	e.store.ClearCart()
}

// SetDiscount validates and applies a whole-cart discount.
func (e *Engine) SetDiscount(dtype model.DiscountType, value int64) error {
	switch dtype {
	case model.DiscountNone:
		e.RemoveDiscount()
		return nil
	case model.DiscountPercentage:
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidDiscount)
		}
	case model.DiscountFixed:
		if value < 0 {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, dtype)
	}
	e.store.SetDiscount(model.Discount{Type: dtype, Value: value})
	return nil
}

// RemoveDiscount clears any applied discount.
func (e *Engine) RemoveDiscount() {
	e.store.SetDiscount(model.Discount{Type: model.DiscountNone})
}

// validateStock checks every cart line against the cached inventory counts,
// aggregating quantities per menu item so repeated lines of the same item
// cannot oversell. Fails fast: no partial submission.
func (e *Engine) validateStock(items []model.CartItem) error {
	needed := make(map[int64]int)
	for _, it := range items {
		needed[it.MenuItemID] += it.Quantity
	}
	for menuItemID, qty := range needed {
		menuItem, ok := e.store.MenuItemByID(menuItemID)
		if !ok {
			return fmt.Errorf("%w: item %d no longer on the menu", ErrItemUnavailable, menuItemID)
		}
		if menuItem.TrackInventory && qty > menuItem.InventoryCount {
			return fmt.Errorf("%w: %s has %d left, cart needs %d",
				ErrInsufficientStock, menuItem.Name, menuItem.InventoryCount, qty)
		}
	}
	return nil
}

// CreateOrder converts the cart into an order. If the selected table already
// has a non-terminal order, the cart lines are appended to it instead of
// creating a duplicate. On success the cart is cleared, an orders refresh is
// scheduled, and menu caches are invalidated so stock counts update.
func (e *Engine) CreateOrder(ctx context.Context, orderType model.OrderType, customerName string, sendToKitchen bool) (model.Order, error) {
	user, ok := e.store.User()
	if !ok {
		return model.Order{}, ErrNoSession
	}

	items := e.store.Cart()
	if len(items) == 0 {
		return model.Order{}, ErrEmptyCart
	}

	shift, hasShift := e.store.Shift()
	shiftOpen := hasShift && shift.Status == model.ShiftOpen
	if !shiftOpen && !user.Role.CanOrderWithoutShift() {
		return model.Order{}, ErrNoShift
	}

	var tableID *int64
	if orderType == model.OrderDineIn {
		id, ok := e.store.SelectedTable()
		if !ok {
			return model.Order{}, ErrNoTable
		}
		tableID = &id
	}

	if err := e.validateStock(items); err != nil {
		return model.Order{}, err
	}

	var (
		order model.Order
		err   error
	)
	if tableID != nil {
		if existing, ok := e.store.OpenOrderForTable(*tableID); ok {
			order, err = e.remote.AddItemsToOrder(ctx, existing.ID, items, user.ID)
			if err != nil {
				return model.Order{}, fmt.Errorf("add items to order %s: %w", existing.OrderNumber, err)
			}
			e.afterOrderMutation(order)
			e.logger.Info("merged cart into open order", "order", order.OrderNumber, "table", *tableID)
			return order, nil
		}
	}

	status := model.OrderOpen
	if sendToKitchen {
		status = model.OrderSentToKitchen
	}
	totals := e.totalsFor(items, e.store.Discount())
	discount := e.store.Discount()

	order, err = e.remote.CreateOrder(ctx, posapi.CreateOrderRequest{
		Type:           orderType,
		TableID:        tableID,
		CustomerName:   customerName,
		Items:          items,
		Status:         status,
		DiscountType:   discount.Type,
		DiscountValue:  discount.Value,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		Total:          totals.Total,
		CreatedBy:      user.ID,
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	e.afterOrderMutation(order)
	e.logger.Info("created order", "order", order.OrderNumber, "type", orderType, "total", totals.Total)
	return order, nil
}

// afterOrderMutation commits the returned order locally, clears the cart, and
// schedules the authoritative refresh and inventory invalidation.
func (e *Engine) afterOrderMutation(order model.Order) {
	e.store.UpsertOrder(order)
	e.store.ClearCart()
	e.loader.InvalidateMenu()
	if e.broadcast != nil {
		e.broadcast.PublishInventoryUpdated()
	}
	e.scheduleRefresh(loader.DomainOrders, loader.DomainTables)
}

// scheduleRefresh runs a deferred force-refresh so the optimistic local view
// is reconciled shortly after the mutation lands.
func (e *Engine) scheduleRefresh(domains ...loader.Domain) {
	time.AfterFunc(e.refreshDelay, func() {
		if err := e.loader.Refresh(context.Background(), domains...); err != nil {
			e.logger.Warn("deferred refresh failed", "error", err)
		}
	})
}

// ProcessPayment settles an order. The local order list is only a cache, so
// an unknown id falls back to a direct remote fetch. On success the order is
// optimistically marked paid and the shift totals updated ahead of the
// deferred refresh.
func (e *Engine) ProcessPayment(ctx context.Context, payment model.Payment) (model.Order, error) {
	user, ok := e.store.User()
	if !ok {
		return model.Order{}, ErrNoSession
	}
	payment.ProcessedBy = user.ID

	order, ok := e.store.OrderByID(payment.OrderID)
	if !ok {
		var err error
		order, err = e.remote.Order(ctx, payment.OrderID)
		if err != nil {
			return model.Order{}, fmt.Errorf("look up order %d: %w", payment.OrderID, err)
		}
	}
	if order.Status.Terminal() {
		return model.Order{}, fmt.Errorf("%w: order %s", ErrOrderClosed, order.OrderNumber)
	}

	paid, err := e.remote.ProcessPayment(ctx, payment.OrderID, payment)
	if err != nil {
		return model.Order{}, fmt.Errorf("process payment: %w", err)
	}
	if paid.ID == 0 {
		paid = order
	}
	paid.Status = model.OrderPaid
	e.store.UpsertOrder(paid)

	if e.shifts != nil {
		e.shifts.RecordPayment(ctx, payment.OrderID, payment.Method, payment.Amount, payment.Tip)
	}
	e.scheduleRefresh(loader.DomainOrders, loader.DomainTables)

	e.logger.Info("payment processed", "order", paid.OrderNumber, "method", payment.Method, "amount", payment.Amount)
	return paid, nil
}

// CancelOrder cancels an order with a reason, optimistically patching the
// local copy and deselecting the table if it was tied to this order.
func (e *Engine) CancelOrder(ctx context.Context, orderID int64, reason string) error {
	user, ok := e.store.User()
	if !ok {
		return ErrNoSession
	}

	order, found := e.store.OrderByID(orderID)
	if found && order.Status.Terminal() {
		return fmt.Errorf("%w: order %s", ErrOrderClosed, order.OrderNumber)
	}

	if _, err := e.remote.CancelOrder(ctx, orderID, user.ID, reason); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	e.store.PatchOrder(orderID, func(o *model.Order) {
		o.Status = model.OrderCancelled
		o.CancellationReason = reason
	})
	if selected, ok := e.store.SelectedTable(); ok && found && order.ForTable(selected) {
		e.store.DeselectTable()
	}
	e.scheduleRefresh(loader.DomainOrders, loader.DomainTables)

	e.logger.Info("order cancelled", "order", orderID, "reason", reason)
	return nil
}

// AdvanceOrderStatus moves an order along the kitchen flow after validating
// the transition locally.
func (e *Engine) AdvanceOrderStatus(ctx context.Context, orderID int64, next model.OrderStatus) (model.Order, error) {
	user, ok := e.store.User()
	if !ok {
		return model.Order{}, ErrNoSession
	}
	order, found := e.store.OrderByID(orderID)
	if found && !order.Status.CanTransitionTo(next) {
		return model.Order{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, order.Status, next)
	}

	updated, err := e.remote.UpdateOrderStatus(ctx, orderID, next, user.ID)
	if err != nil {
		return model.Order{}, fmt.Errorf("update order status: %w", err)
	}
	e.store.UpsertOrder(updated)
	e.scheduleRefresh(loader.DomainOrders)
	return updated, nil
}

// RemoveOrderItem removes one line from a persisted, still-open order.
func (e *Engine) RemoveOrderItem(ctx context.Context, orderID, itemID int64) (model.Order, error) {
	user, ok := e.store.User()
	if !ok {
		return model.Order{}, ErrNoSession
	}
	if order, found := e.store.OrderByID(orderID); found && order.Status.Terminal() {
		return model.Order{}, fmt.Errorf("%w: order %s", ErrOrderClosed, order.OrderNumber)
	}

	updated, err := e.remote.RemoveItemFromOrder(ctx, orderID, itemID, user.ID)
	if err != nil {
		return model.Order{}, fmt.Errorf("remove order item: %w", err)
	}
	e.store.UpsertOrder(updated)
	e.loader.InvalidateMenu()
	if e.broadcast != nil {
		e.broadcast.PublishInventoryUpdated()
	}
	e.scheduleRefresh(loader.DomainOrders)
	return updated, nil
}

// PrintInvoice asks the service to print the order invoice.
func (e *Engine) PrintInvoice(ctx context.Context, orderID int64) error {
	if err := e.remote.PrintInvoice(ctx, orderID); err != nil {
		return fmt.Errorf("print invoice: %w", err)
	}
	return nil
}
