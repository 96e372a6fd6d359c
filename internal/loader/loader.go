// Package loader maps logical data domains to remote fetches through the
// cache and request queue, tracking which domains have been loaded so views
// can fetch lazily and the poller can force-refresh.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/harborpos/till/internal/fetch"
	"github.com/harborpos/till/internal/model"
	"github.com/harborpos/till/internal/posapi"
	"github.com/harborpos/till/internal/queue"
	"github.com/harborpos/till/internal/state"
)

// Domain is a named category of synchronized data.
type Domain string

const (
	DomainMenuItems  Domain = "menuItems"
	DomainCategories Domain = "categories"
	DomainTables     Domain = "tables"
	DomainOrders     Domain = "orders"
	DomainUsers      Domain = "users"
	DomainSettings   Domain = "businessSettings"
)

// AllDomains lists every synchronized domain.
var AllDomains = []Domain{
	DomainMenuItems, DomainCategories, DomainTables,
	DomainOrders, DomainUsers, DomainSettings,
}

// Remote is the subset of the POS client the loader needs.
type Remote interface {
	MenuItems(ctx context.Context, force bool) ([]model.MenuItem, error)
	MenuCategories(ctx context.Context, force bool) ([]model.Category, error)
	Tables(ctx context.Context) ([]model.Table, error)
	Orders(ctx context.Context, filter posapi.OrderFilter) ([]model.Order, error)
	Users(ctx context.Context) ([]model.User, error)
	BusinessSettings(ctx context.Context) (model.BusinessSettings, error)
}

// Loader coordinates domain fetches and tracks per-domain load state.
type Loader struct {
	remote Remote
	cache  *fetch.Cache
	queue  *queue.Queue
	store  *state.Store
	logger *slog.Logger

	ttl        map[Domain]time.Duration
	stageDelay time.Duration
	now        func() time.Time

	mu         sync.Mutex
	loaded     map[Domain]bool
	lastUpdate time.Time
}

// New creates a loader. A nil logger falls back to slog.Default.
func New(remote Remote, cache *fetch.Cache, q *queue.Queue, store *state.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		remote: remote,
		cache:  cache,
		queue:  q,
		store:  store,
		logger: logger.With("component", "loader"),
		ttl: map[Domain]time.Duration{
			DomainMenuItems:  60 * time.Second,
			DomainCategories: 60 * time.Second,
			DomainTables:     10 * time.Second,
			DomainOrders:     5 * time.Second,
			DomainUsers:      5 * time.Minute,
			DomainSettings:   5 * time.Minute,
		},
		stageDelay: 150 * time.Millisecond,
		now:        time.Now,
		loaded:     make(map[Domain]bool),
	}
}

// cacheKey returns the cache key for a domain. Menu domains share a common
// prefix so inventory-affecting mutations can invalidate them together.
func cacheKey(d Domain) string {
	if d == DomainMenuItems || d == DomainCategories {
		return "domain:menu:" + string(d)
	}
	return "domain:" + string(d)
}

// Loaded reports whether the domain has been fetched at least once.
func (l *Loader) Loaded(d Domain) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[d]
}

// LastUpdate returns the time of the most recent successful domain fetch.
func (l *Loader) LastUpdate() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate
}

// MarkStale clears the loaded flag and cache entry for a domain, so the next
// lazy load fetches it again.
func (l *Loader) MarkStale(d Domain) {
	l.mu.Lock()
	l.loaded[d] = false
	l.mu.Unlock()
	l.cache.Invalidate(cacheKey(d))
}

// InvalidateMenu drops the menu-related cache entries and loaded flags. Used
// when an inventory-affecting mutation lands, so the next menu view sees
// fresh stock counts.
func (l *Loader) InvalidateMenu() {
	l.mu.Lock()
	l.loaded[DomainMenuItems] = false
	l.loaded[DomainCategories] = false
	l.mu.Unlock()
	l.cache.Invalidate("domain:menu")
}

// LoadLazy fetches only domains not yet marked loaded. Failures are reported
// per domain; successful domains commit regardless.
func (l *Loader) LoadLazy(ctx context.Context, domains ...Domain) error {
	var pending []Domain
	l.mu.Lock()
	for _, d := range domains {
		if !l.loaded[d] {
			pending = append(pending, d)
		}
	}
	l.mu.Unlock()
	return l.fetchAll(ctx, pending, false)
}

// Refresh force-fetches the listed domains, bypassing cache and loaded flags.
func (l *Loader) Refresh(ctx context.Context, domains ...Domain) error {
	return l.fetchAll(ctx, domains, true)
}

// fetchAll runs the domain fetches concurrently with allSettled semantics: a
// failure in one domain never aborts the others.
func (l *Loader) fetchAll(ctx context.Context, domains []Domain, force bool) error {
	if len(domains) == 0 {
		return nil
	}

	errs := make([]error, len(domains))
	var wg sync.WaitGroup
	for i, d := range domains {
		wg.Add(1)
		go func(i int, d Domain) {
			defer wg.Done()
			if err := l.fetchDomain(ctx, d, force); err != nil {
				l.logger.Warn("domain fetch failed", "domain", d, "error", err)
				errs[i] = fmt.Errorf("%s: %w", d, err)
			}
		}(i, d)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (l *Loader) fetchDomain(ctx context.Context, d Domain, force bool) error {
	key := cacheKey(d)

	priority := queue.PriorityNormal
	if d == DomainOrders || d == DomainTables {
		priority = queue.PriorityHigh
	}

	_, err := l.cache.Do(ctx, key, l.ttl[d], force, func(ctx context.Context) (any, error) {
		return l.queue.Submit(ctx, string(d), priority, func(ctx context.Context) (any, error) {
			return l.fetchRemote(ctx, d, force)
		})
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.loaded[d] = true
	l.lastUpdate = l.now()
	l.mu.Unlock()
	return nil
}

// fetchRemote performs the actual remote call and commits the result into the
// shared state store.
func (l *Loader) fetchRemote(ctx context.Context, d Domain, force bool) (any, error) {
	switch d {
	case DomainMenuItems:
		items, err := l.remote.MenuItems(ctx, force)
		if err != nil {
			return nil, err
		}
		l.store.SetMenuItems(items)
		return items, nil
	case DomainCategories:
		cats, err := l.remote.MenuCategories(ctx, force)
		if err != nil {
			return nil, err
		}
		l.store.SetCategories(cats)
		return cats, nil
	case DomainTables:
		tables, err := l.remote.Tables(ctx)
		if err != nil {
			return nil, err
		}
		l.store.SetTables(tables)
		return tables, nil
	case DomainOrders:
		orders, err := l.remote.Orders(ctx, posapi.OrderFilter{})
		if err != nil {
			return nil, err
		}
		l.store.SetOrders(orders)
		return orders, nil
	case DomainUsers:
		users, err := l.remote.Users(ctx)
		if err != nil {
			return nil, err
		}
		l.store.SetUsers(users)
		return users, nil
	case DomainSettings:
		settings, err := l.remote.BusinessSettings(ctx)
		if err != nil {
			return nil, err
		}
		l.store.SetSettings(settings)
		return settings, nil
	default:
		return nil, fmt.Errorf("unknown domain %q", d)
	}
}

// InitHooks are the non-domain stages of startup, supplied by the session
// manager and poller.
type InitHooks struct {
	FetchShift  func(ctx context.Context) error
	StartPoller func()
}

// Initialize runs the staged startup sequence: business settings first (with
// retries, since nothing renders without a currency), then menu data, then
// the current shift, then tables and orders, then the poller. Stages are
// separated by short delays so the terminal renders incrementally.
func (l *Loader) Initialize(ctx context.Context, hooks InitHooks) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.LoadLazy(ctx, DomainSettings); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	l.pause(ctx)

	if err := l.LoadLazy(ctx, DomainMenuItems, DomainCategories); err != nil {
		l.logger.Warn("initial menu load incomplete", "error", err)
	}
	l.pause(ctx)

	if hooks.FetchShift != nil {
		if err := hooks.FetchShift(ctx); err != nil {
			l.logger.Warn("initial shift fetch failed", "error", err)
		}
	}
	l.pause(ctx)

	if err := l.LoadLazy(ctx, DomainTables, DomainOrders, DomainUsers); err != nil {
		l.logger.Warn("initial floor load incomplete", "error", err)
	}

	if hooks.StartPoller != nil {
		hooks.StartPoller()
	}
	return nil
}

func (l *Loader) pause(ctx context.Context) {
	select {
	case <-time.After(l.stageDelay):
	case <-ctx.Done():
	}
}
