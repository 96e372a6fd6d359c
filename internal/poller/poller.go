// Package poller drives periodic refresh of the orders and tables domains
// while a session exists, and owns the named per-view timers layered on top
// of the base cadence.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harborpos/till/internal/loader"
	"github.com/harborpos/till/internal/metrics"
	"github.com/harborpos/till/internal/state"
)

// Refresher force-fetches domains; satisfied by *loader.Loader.
type Refresher interface {
	Refresh(ctx context.Context, domains ...loader.Domain) error
}

// Config holds the base cadence. Zero values fall back to defaults.
type Config struct {
	Interval time.Duration
	MinGap   time.Duration
}

// Poller refreshes orders and tables on a fixed tick, gated so refreshes
// cannot pile up faster than they complete. It stops itself when the session
// ends.
type Poller struct {
	cfg        Config
	refresher  Refresher
	store      *state.Store
	fetchShift func(ctx context.Context) error
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	lastSuccess time.Time
}

// New creates a poller. fetchShift may be nil; a nil logger falls back to
// slog.Default.
func New(cfg Config, refresher Refresher, store *state.Store, fetchShift func(ctx context.Context) error, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:        cfg,
		refresher:  refresher,
		store:      store,
		fetchShift: fetchShift,
		logger:     logger.With("component", "poller"),
		now:        time.Now,
	}
}

// Start begins the poll loop. Starting an already-running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop halts the poll loop and waits for it to exit. Stopping a stopped
// poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				p.mu.Lock()
				if p.cancel != nil {
					p.cancel()
					p.cancel = nil
				}
				p.mu.Unlock()
				return
			}
		}
	}
}

// tick runs one refresh pass. It returns false when the poller should stop.
func (p *Poller) tick(ctx context.Context) bool {
	if _, ok := p.store.User(); !ok {
		p.logger.Info("no session, stopping poller")
		return false
	}

	if p.now().Sub(p.lastSuccess) < p.cfg.MinGap {
		metrics.PollSkips.Inc()
		return true
	}

	metrics.PollTicks.Inc()
	err := p.refresher.Refresh(ctx, loader.DomainOrders, loader.DomainTables)
	if p.fetchShift != nil {
		if serr := p.fetchShift(ctx); serr != nil {
			p.logger.Warn("shift refresh failed", "error", serr)
		}
	}
	if err != nil {
		// Background refresh failures degrade silently; the next
		// successful poll self-heals.
		p.logger.Warn("poll refresh failed", "error", err)
		return true
	}
	p.lastSuccess = p.now()
	return true
}
