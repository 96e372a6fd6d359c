package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Scheduler owns the named view-specific timers layered on top of the base
// poller (kitchen, tables, dashboard, menu cadences). Every timer has an
// explicit handle and is torn down deterministically on view change, so no
// timer outlives the view that asked for it.
type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]context.CancelFunc
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		timers: make(map[string]context.CancelFunc),
	}
}

// Every runs fn on the given interval under the name "view/domain" until
// cancelled. Registering the same name again replaces the previous timer.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if old, ok := s.timers[name]; ok {
		old()
	}
	s.timers[name] = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Cancel stops the named timer.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.timers[name]; ok {
		cancel()
		delete(s.timers, name)
	}
}

// CancelView stops every timer registered under the view prefix
// ("kitchen" cancels "kitchen/orders", "kitchen/shift", ...).
func (s *Scheduler) CancelView(view string) {
	prefix := view + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.timers {
		if strings.HasPrefix(name, prefix) || name == view {
			cancel()
			delete(s.timers, name)
		}
	}
}

// Shutdown stops every timer.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.timers {
		cancel()
		delete(s.timers, name)
	}
}

// Active returns the number of live timers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
