// Package posapi is the HTTP client for the POS back office service. It is
// the only place that speaks the remote wire format; everything above it works
// with model types.
package posapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/harborpos/till/internal/metrics"
	"github.com/harborpos/till/internal/model"
)

// Error is a structured failure from the POS service.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("pos service: %s (status %d)", e.Message, e.Status)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the POS back office service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client. A nil logger falls back to slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "posapi"),
	}
}

// SetToken installs the session token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RemoteDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(endpoint, "network_error").Inc()
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RemoteRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		apiErr := &Error{Status: resp.StatusCode, Message: resp.Status}
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			if payload.Message != "" {
				apiErr.Message = payload.Message
			} else if payload.Error != "" {
				apiErr.Message = payload.Error
			}
		}
		return apiErr
	}

	metrics.RemoteRequests.WithLabelValues(endpoint, "ok").Inc()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func forceQuery(force bool) url.Values {
	if !force {
		return nil
	}
	return url.Values{"cache": {"no"}}
}

// MenuItems fetches all menu items. force bypasses any server-side cache.
func (c *Client) MenuItems(ctx context.Context, force bool) ([]model.MenuItem, error) {
	var items []model.MenuItem
	if err := c.do(ctx, "menu_items", http.MethodGet, "/api/menu/items", forceQuery(force), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MenuCategories fetches all menu categories.
func (c *Client) MenuCategories(ctx context.Context, force bool) ([]model.Category, error) {
	var cats []model.Category
	if err := c.do(ctx, "menu_categories", http.MethodGet, "/api/menu/categories", forceQuery(force), nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// Tables fetches the floor plan.
func (c *Client) Tables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	if err := c.do(ctx, "tables", http.MethodGet, "/api/tables", nil, nil, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// OrderFilter narrows an order listing.
type OrderFilter struct {
	Status model.OrderStatus
	Since  time.Time
}

// Orders fetches orders matching the filter.
func (c *Client) Orders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	var orders []model.Order
	if err := c.do(ctx, "orders", http.MethodGet, "/api/orders", q, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Order fetches a single order by id.
func (c *Client) Order(ctx context.Context, id int64) (model.Order, error) {
	var order model.Order
	err := c.do(ctx, "order", http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, nil, &order)
	return order, err
}

// Users fetches the staff list.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.do(ctx, "users", http.MethodGet, "/api/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// BusinessSettings fetches venue-wide settings.
func (c *Client) BusinessSettings(ctx context.Context) (model.BusinessSettings, error) {
	var settings model.BusinessSettings
	err := c.do(ctx, "business_settings", http.MethodGet, "/api/settings", nil, nil, &settings)
	return settings, err
}

// CreateOrderRequest is the payload for a new order.
type CreateOrderRequest struct {
	Type           model.OrderType    `json:"type"`
	TableID        *int64             `json:"table_id,omitempty"`
	CustomerName   string             `json:"customer_name,omitempty"`
	Items          []model.CartItem   `json:"items"`
	Status         model.OrderStatus  `json:"status"`
	DiscountType   model.DiscountType `json:"discount_type"`
	DiscountValue  int64              `json:"discount_value"`
	Subtotal       int64              `json:"subtotal"`
	DiscountAmount int64              `json:"discount_amount"`
	TaxAmount      int64              `json:"tax_amount"`
	Total          int64              `json:"total"`
	CreatedBy      int64              `json:"created_by"`
}

// CreateOrder submits a new order and returns the created resource.
func (c *Client) CreateOrder(ctx context.Context, payload CreateOrderRequest) (model.Order, error) {
	var order model.Order
	err := c.do(ctx, "create_order", http.MethodPost, "/api/orders", nil, payload, &order)
	return order, err
}

// AddItemsToOrder appends cart lines to an existing order.
func (c *Client) AddItemsToOrder(ctx context.Context, orderID int64, items []model.CartItem, userID int64) (model.Order, error) {
	body := struct {
		Items  []model.CartItem `json:"items"`
		UserID int64            `json:"user_id"`
	}{items, userID}
	var order model.Order
	err := c.do(ctx, "add_items", http.MethodPost, fmt.Sprintf("/api/orders/%d/items", orderID), nil, body, &order)
	return order, err
}

// RemoveItemFromOrder removes one line from an existing order.
func (c *Client) RemoveItemFromOrder(ctx context.Context, orderID, itemID, userID int64) (model.Order, error) {
	q := url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
	var order model.Order
	err := c.do(ctx, "remove_item", http.MethodDelete, fmt.Sprintf("/api/orders/%d/items/%d", orderID, itemID), q, nil, &order)
	return order, err
}

// UpdateOrderStatus advances an order's status.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, userID int64) (model.Order, error) {
	body := struct {
		Status model.OrderStatus `json:"status"`
		UserID int64             `json:"user_id"`
	}{status, userID}
	var order model.Order
	err := c.do(ctx, "update_status", http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), nil, body, &order)
	return order, err
}

// CancelOrder cancels an order with a reason.
func (c *Client) CancelOrder(ctx context.Context, orderID, userID int64, reason string) (model.Order, error) {
	body := struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}{userID, reason}
	var order model.Order
	err := c.do(ctx, "cancel_order", http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", orderID), nil, body, &order)
	return order, err
}

// ProcessPayment settles an order and returns the updated resource.
func (c *Client) ProcessPayment(ctx context.Context, orderID int64, payment model.Payment) (model.Order, error) {
	var order model.Order
	err := c.do(ctx, "process_payment", http.MethodPost, fmt.Sprintf("/api/orders/%d/payment", orderID), nil, payment, &order)
	return order, err
}

// PrintInvoice asks the service to print the order invoice.
func (c *Client) PrintInvoice(ctx context.Context, orderID int64) error {
	return c.do(ctx, "print_invoice", http.MethodPost, fmt.Sprintf("/api/orders/%d/invoice", orderID), nil, nil, nil)
}

// LoginResult is the successful response to a PIN login.
type LoginResult struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Login exchanges staff id and PIN for a user and session token. The token is
// installed on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, staffID, pin string) (LoginResult, error) {
	body := struct {
		StaffID string `json:"staff_id"`
		PIN     string `json:"pin"`
	}{staffID, pin}
	var res LoginResult
	if err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", nil, body, &res); err != nil {
		return LoginResult{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

// StartShift opens a shift for the user with the given starting cash.
func (c *Client) StartShift(ctx context.Context, userID, startingCash int64) (model.Shift, error) {
	body := struct {
		UserID       int64 `json:"user_id"`
		StartingCash int64 `json:"starting_cash"`
	}{userID, startingCash}
	var shift model.Shift
	err := c.do(ctx, "start_shift", http.MethodPost, "/api/shifts", nil, body, &shift)
	return shift, err
}

// EndShift closes the user's open shift.
func (c *Client) EndShift(ctx context.Context, userID, endingCash int64) (model.Shift, error) {
	body := struct {
		UserID     int64 `json:"user_id"`
		EndingCash int64 `json:"ending_cash"`
	}{userID, endingCash}
	var shift model.Shift
	err := c.do(ctx, "end_shift", http.MethodPost, "/api/shifts/end", nil, body, &shift)
	return shift, err
}

// CurrentShift returns the user's open shift, or nil when none exists.
func (c *Client) CurrentShift(ctx context.Context, userID int64) (*model.Shift, error) {
	var shift model.Shift
	err := c.do(ctx, "current_shift", http.MethodGet, fmt.Sprintf("/api/shifts/current/%d", userID), nil, nil, &shift)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &shift, nil
}

// ShiftOrderSummary feeds one settled order into the shift's remote totals.
type ShiftOrderSummary struct {
	OrderID int64               `json:"order_id"`
	Method  model.PaymentMethod `json:"method"`
	Amount  int64               `json:"amount"`
	Tip     int64               `json:"tip"`
}

// UpdateShiftTotals pushes a payment summary into the user's running shift.
func (c *Client) UpdateShiftTotals(ctx context.Context, userID int64, summary ShiftOrderSummary) error {
	return c.do(ctx, "update_shift_totals", http.MethodPost, fmt.Sprintf("/api/shifts/current/%d/totals", userID), nil, summary, nil)
}
