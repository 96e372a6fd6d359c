package state

import (
	"testing"
	"time"

	"github.com/harborpos/till/internal/model"
)

func int64p(v int64) *int64 { return &v }

func TestOpenOrderForTable(t *testing.T) {
	s := New()
	s.SetOrders([]model.Order{
		{ID: 1, TableID: int64p(4), Status: model.OrderPaid},
		{ID: 2, TableID: int64p(4), Status: model.OrderSentToKitchen},
		{ID: 3, TableID: int64p(9), Status: model.OrderOpen},
	})

	o, ok := s.OpenOrderForTable(4)
	if !ok {
		t.Fatal("expected open order for table 4")
	}
	if o.ID != 2 {
		t.Errorf("order id = %d, want 2", o.ID)
	}

	if _, ok := s.OpenOrderForTable(1); ok {
		t.Error("expected no open order for table 1")
	}
}

func TestUpsertOrder(t *testing.T) {
	s := New()
	s.SetOrders([]model.Order{{ID: 1, Status: model.OrderOpen}})

	s.UpsertOrder(model.Order{ID: 1, Status: model.OrderPaid})
	if o, _ := s.OrderByID(1); o.Status != model.OrderPaid {
		t.Errorf("status = %q, want paid", o.Status)
	}

	s.UpsertOrder(model.Order{ID: 2, Status: model.OrderOpen})
	if len(s.Orders()) != 2 {
		t.Errorf("orders = %d, want 2", len(s.Orders()))
	}
}

func TestSubscribeNotifies(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.SetTables([]model.Table{{ID: 1, Number: 1}})

	select {
	case c := <-ch:
		if c != ChangedTables {
			t.Errorf("change = %q, want %q", c, ChangedTables)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}
	// Mutations after cancel must not panic.
	s.SetUsers([]model.User{{ID: 1}})
}

func TestClearCartResetsSelectionAndDiscount(t *testing.T) {
	s := New()
	s.AppendCartItem(model.CartItem{ID: "a", Quantity: 1, UnitPrice: 100, TotalPrice: 100})
	s.SetDiscount(model.Discount{Type: model.DiscountPercentage, Value: 10})
	s.SelectTable(3)

	s.ClearCart()
	s.ClearCart() // idempotent

	if len(s.Cart()) != 0 {
		t.Error("cart not empty")
	}
	if d := s.Discount(); d.Type != model.DiscountNone {
		t.Errorf("discount type = %q, want none", d.Type)
	}
	if _, ok := s.SelectedTable(); ok {
		t.Error("table still selected")
	}
}

func TestCartCopyIsolation(t *testing.T) {
	s := New()
	s.AppendCartItem(model.CartItem{ID: "a", Quantity: 1})
	cart := s.Cart()
	cart[0].Quantity = 99
	if s.Cart()[0].Quantity != 1 {
		t.Error("external mutation leaked into store")
	}
}
