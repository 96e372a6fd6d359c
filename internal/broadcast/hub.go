// Package broadcast pushes sync events between terminals. Each till hosts a
// hub on /ws; peers connect and receive events such as inventory changes so
// their caches invalidate without waiting for the next poll. Inbound events
// from peers are dispatched to a registered handler.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	EntityInventory = "inventory"
	EntityOrder     = "order"
	EntityTable     = "table"
	EntityShift     = "shift"
)

// Event is a real-time sync notification exchanged between terminals.
type Event struct {
	Type   string    `json:"type"`
	Entity string    `json:"entity"`
	Action string    `json:"action"`
	ID     int64     `json:"id,omitempty"`
	At     time.Time `json:"at"`
}

// NewEvent creates an Event with the Type field derived from entity and action.
func NewEvent(entity, action string, id int64) Event {
	return Event{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		At:     time.Now().UTC(),
	}
}

// Hub maintains the set of connected peer terminals and fans events out to
// them. Events received from a peer go to the OnEvent handler instead.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	onEvent func(Event)
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// OnEvent registers the handler for events arriving from peers. Call before
// serving connections; the handler runs on connection read goroutines.
func (h *Hub) OnEvent(fn func(Event)) {
	h.mu.Lock()
	h.onEvent = fn
	h.mu.Unlock()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish sends an event to all connected peers.
func (h *Hub) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Peer buffer full; drop rather than block the publisher
		}
	}
}

// PublishInventoryUpdated announces that stock counts changed, typically
// right after an order submission decremented them server-side.
func (h *Hub) PublishInventoryUpdated() {
	h.Publish(NewEvent(EntityInventory, "updated", 0))
}

// PublishOrderUpdated announces a change to the given order.
func (h *Hub) PublishOrderUpdated(orderID int64) {
	h.Publish(NewEvent(EntityOrder, "updated", orderID))
}

// dispatch routes an inbound peer event to the registered handler.
func (h *Hub) dispatch(evt Event) {
	h.mu.RLock()
	fn := h.onEvent
	h.mu.RUnlock()
	if fn != nil {
		fn(evt)
	}
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
