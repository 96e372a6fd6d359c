// Package server exposes the terminal daemon's HTTP surface: health and
// metrics probes, the peer sync websocket, and a state summary endpoint for
// the local UI shell.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborpos/till/internal/broadcast"
	"github.com/harborpos/till/internal/cart"
	"github.com/harborpos/till/internal/loader"
	"github.com/harborpos/till/internal/middleware"
	"github.com/harborpos/till/internal/model"
	"github.com/harborpos/till/internal/poller"
	"github.com/harborpos/till/internal/queue"
	"github.com/harborpos/till/internal/state"
)

// wsConnectLimit caps websocket connection attempts per peer per minute.
const wsConnectLimit = 30

type Server struct {
	store       *state.Store
	loader      *loader.Loader
	poller      *poller.Poller
	queue       *queue.Queue
	hub         *broadcast.Hub
	engine      *cart.Engine
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(st *state.Store, ld *loader.Loader, pol *poller.Poller, q *queue.Queue, hub *broadcast.Hub, engine *cart.Engine, logger *slog.Logger) *Server {
	return &Server{
		store:       st,
		loader:      ld,
		poller:      pol,
		queue:       q,
		hub:         hub,
		engine:      engine,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Router builds the handler tree with request logging on every route.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /state", s.handleState)

	limitWS := middleware.RateLimit(s.rateLimiter, middleware.RealIP, wsConnectLimit, time.Minute)
	mux.Handle("GET /ws", limitWS(broadcast.Handler(s.hub)))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// CleanupRateLimiter drops expired rate limit windows.
func (s *Server) CleanupRateLimiter() {
	s.rateLimiter.Cleanup()
}

// handleState reports a summary of the terminal's runtime state, consumed by
// the UI shell status bar and by fleet monitoring.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	_, loggedIn := s.store.User()
	shift, hasShift := s.store.Shift()
	shiftOpen := hasShift && shift.Status == model.ShiftOpen
	totals := s.engine.Totals()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"logged_in":   loggedIn,
		"shift_open":  shiftOpen,
		"polling":     s.poller.Running(),
		"queued":      s.queue.Len(),
		"peers":       s.hub.ClientCount(),
		"orders":      len(s.store.Orders()),
		"cart_lines":  len(s.store.Cart()),
		"cart_total":  totals.Total,
		"last_update": s.loader.LastUpdate(),
	}); err != nil {
		s.logger.Warn("encoding state response", "error", err)
	}
}
