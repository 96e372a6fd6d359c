package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/harborpos/till/internal/database"
	"github.com/harborpos/till/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshotRoundTrip(t *testing.T) {
	ss := NewSnapshotStore(setupTestDB(t))

	table := int64(4)
	snap := Snapshot{
		User:          &model.User{ID: 7, StaffID: "42", Name: "Dana", Role: model.RoleCashier},
		Token:         "tok",
		Cart:          []model.CartItem{{ID: "a", MenuItemID: 1, Quantity: 2, UnitPrice: 3000, TotalPrice: 6000}},
		SelectedTable: &table,
		Discount:      model.Discount{Type: model.DiscountPercentage, Value: 10},
		Currency:      "IDR",
	}
	if err := ss.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ss.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Version != SnapshotVersion {
		t.Errorf("version = %d, want %d", got.Version, SnapshotVersion)
	}
	if got.User == nil || got.User.Name != "Dana" {
		t.Errorf("user = %+v", got.User)
	}
	if got.SelectedTable == nil || *got.SelectedTable != 4 {
		t.Errorf("selected table = %v, want 4", got.SelectedTable)
	}
	if len(got.Cart) != 1 || got.Cart[0].TotalPrice != 6000 {
		t.Errorf("cart = %+v", got.Cart)
	}
}

func TestSnapshotLoadEmpty(t *testing.T) {
	ss := NewSnapshotStore(setupTestDB(t))
	snap, err := ss.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil {
		t.Errorf("snapshot = %+v, want nil", snap)
	}
}

func TestSnapshotClear(t *testing.T) {
	ss := NewSnapshotStore(setupTestDB(t))
	if err := ss.Save(Snapshot{Token: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := ss.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	snap, err := ss.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil {
		t.Error("snapshot survived Clear")
	}
}

func TestSnapshotV1Backfill(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSnapshotStore(db)

	// A v1 snapshot written before table selection and discounts existed.
	v1 := map[string]any{
		"version": 1,
		"user":    map[string]any{"id": 7, "staff_id": "42", "name": "Dana", "role": "cashier"},
		"token":   "tok",
	}
	data, _ := json.Marshal(v1)
	if _, err := db.Exec(`INSERT INTO snapshots (id, version, data) VALUES (1, 1, ?)`, string(data)); err != nil {
		t.Fatalf("insert v1 row: %v", err)
	}

	got, err := ss.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != SnapshotVersion {
		t.Errorf("version = %d, want %d", got.Version, SnapshotVersion)
	}
	if got.SelectedTable != nil {
		t.Error("selected table should default to none")
	}
	if got.Discount.Type != model.DiscountNone {
		t.Errorf("discount type = %q, want none", got.Discount.Type)
	}
	if got.User == nil || got.User.StaffID != "42" {
		t.Errorf("user = %+v", got.User)
	}
}

func TestCredentialVerify(t *testing.T) {
	cs := NewCredentialStore(setupTestDB(t))

	if err := cs.Save(7, "42", "1234"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cs.Verify("42", "1234"); err != nil {
		t.Errorf("verify correct pin: %v", err)
	}
	if err := cs.Verify("42", "9999"); err == nil {
		t.Error("expected wrong-pin error")
	}
	if err := cs.Verify("99", "1234"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}

func TestCredentialReplace(t *testing.T) {
	cs := NewCredentialStore(setupTestDB(t))
	cs.Save(7, "42", "1234")
	if err := cs.Save(7, "42", "5678"); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if err := cs.Verify("42", "1234"); err == nil {
		t.Error("old pin still accepted")
	}
	if err := cs.Verify("42", "5678"); err != nil {
		t.Errorf("new pin rejected: %v", err)
	}
}
