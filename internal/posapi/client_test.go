package posapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harborpos/till/internal/model"
)

func TestLoginInstallsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("path = %q, want /api/auth/login", r.URL.Path)
		}
		var req struct {
			StaffID string `json:"staff_id"`
			PIN     string `json:"pin"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.StaffID != "42" || req.PIN != "1234" {
			t.Errorf("credentials = %q/%q", req.StaffID, req.PIN)
		}
		json.NewEncoder(w).Encode(LoginResult{
			User:  model.User{ID: 7, StaffID: "42", Name: "Dana", Role: model.RoleCashier},
			Token: "tok-abc",
		})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	res, err := c.Login(context.Background(), "42", "1234")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.Name != "Dana" {
		t.Errorf("user name = %q, want Dana", res.User.Name)
	}
	if c.Token() != "tok-abc" {
		t.Errorf("token = %q, want tok-abc", c.Token())
	}
}

func TestTokenSentAndForceFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("cache"); got != "no" {
			t.Errorf("cache param = %q, want no", got)
		}
		json.NewEncoder(w).Encode([]model.MenuItem{{ID: 1, Name: "Espresso", Price: 3500}})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	c.SetToken("tok")
	items, err := c.MenuItems(context.Background(), true)
	if err != nil {
		t.Fatalf("menu items: %v", err)
	}
	if len(items) != 1 || items[0].Price != 3500 {
		t.Fatalf("items = %+v", items)
	}
}

func TestStructuredError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "table already has an open order"})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Type: model.OrderDineIn})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *posapi.Error", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", apiErr.Status)
	}
	if apiErr.Message != "table already has an open order" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestCurrentShiftNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	shift, err := c.CurrentShift(context.Background(), 7)
	if err != nil {
		t.Fatalf("current shift: %v", err)
	}
	if shift != nil {
		t.Errorf("shift = %+v, want nil", shift)
	}
}
