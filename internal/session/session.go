// Package session manages login, shift binding, inactivity expiry, and the
// persisted snapshot that lets a terminal restore its session after a
// restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harborpos/till/internal/model"
	"github.com/harborpos/till/internal/posapi"
	"github.com/harborpos/till/internal/state"
	"github.com/harborpos/till/internal/store"
)

var (
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrBadCredentials is returned when the staff id or PIN is malformed
	// before any remote call is made.
	ErrBadCredentials = errors.New("session: staff id must be 1-6 digits and PIN exactly 4 digits")
)

// Remote is the subset of the POS client the session manager needs.
type Remote interface {
	Login(ctx context.Context, staffID, pin string) (posapi.LoginResult, error)
	SetToken(token string)
	CurrentShift(ctx context.Context, userID int64) (*model.Shift, error)
	StartShift(ctx context.Context, userID, startingCash int64) (model.Shift, error)
	EndShift(ctx context.Context, userID, endingCash int64) (model.Shift, error)
	UpdateShiftTotals(ctx context.Context, userID int64, summary posapi.ShiftOrderSummary) error
}

// Config holds session lifecycle settings. Zero values fall back to defaults.
type Config struct {
	Timeout       time.Duration
	CheckInterval time.Duration
}

// Manager owns the session lifecycle.
type Manager struct {
	cfg       Config
	remote    Remote
	store     *state.Store
	snapshots *store.SnapshotStore
	creds     *store.CredentialStore
	logger    *slog.Logger
	now       func() time.Time

	// onEnd runs after logout or inactivity expiry (used to stop polling).
	onEnd func()

	mu     sync.Mutex
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	pdone  chan struct{}
}

// New creates a session manager. snapshots and creds may be nil in tests that
// do not exercise persistence; a nil logger falls back to slog.Default.
func New(cfg Config, remote Remote, st *state.Store, snapshots *store.SnapshotStore, creds *store.CredentialStore, logger *slog.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		remote:    remote,
		store:     st,
		snapshots: snapshots,
		creds:     creds,
		logger:    logger.With("component", "session"),
		now:       time.Now,
	}
}

// OnEnd registers a hook that runs whenever the session ends, by logout or
// by inactivity expiry.
func (m *Manager) OnEnd(fn func()) {
	m.onEnd = fn
}

func validCredentials(staffID, pin string) bool {
	if len(staffID) < 1 || len(staffID) > 6 || len(pin) != 4 {
		return false
	}
	for _, r := range staffID + pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Login exchanges staff id and PIN for a session, binds the user's current
// shift, persists a restorable snapshot, and starts the inactivity watchdog.
func (m *Manager) Login(ctx context.Context, staffID, pin string) (model.User, error) {
	if !validCredentials(staffID, pin) {
		return model.User{}, ErrBadCredentials
	}

	res, err := m.remote.Login(ctx, staffID, pin)
	if err != nil {
		return model.User{}, fmt.Errorf("login: %w", err)
	}

	m.store.SetSession(res.User, m.now())

	if err := m.FetchShift(ctx); err != nil {
		m.logger.Warn("shift fetch after login failed", "error", err)
	}

	if m.creds != nil {
		if err := m.creds.Save(res.User.ID, staffID, pin); err != nil {
			m.logger.Warn("saving local credential failed", "error", err)
		}
	}
	m.setToken(res.Token)
	m.persist()
	m.startWatchdog()

	m.logger.Info("logged in", "user", res.User.Name, "role", res.User.Role)
	return res.User, nil
}

// Logout ends the session: clears local state, the remote token, and the
// persisted snapshot, and stops the watchdog.
func (m *Manager) Logout() {
	m.stopWatchdog()
	m.setToken("")
	m.store.ClearSession()
	m.store.ClearCart()
	m.remote.SetToken("")
	if m.snapshots != nil {
		if err := m.snapshots.Clear(); err != nil {
			m.logger.Warn("clearing snapshot failed", "error", err)
		}
	}
	if m.onEnd != nil {
		m.onEnd()
	}
	m.logger.Info("logged out")
}

// Restore rebuilds the session from the persisted snapshot, if one exists.
// It returns true when a session was restored.
func (m *Manager) Restore() (bool, error) {
	if m.snapshots == nil {
		return false, nil
	}
	snap, err := m.snapshots.Load()
	if err != nil {
		return false, err
	}
	if snap == nil || snap.User == nil || snap.Token == "" {
		return false, nil
	}

	m.remote.SetToken(snap.Token)
	m.setToken(snap.Token)
	m.store.SetSession(*snap.User, m.now())
	m.store.SetShift(snap.Shift)
	m.store.SetCart(snap.Cart)
	m.store.SetDiscount(snap.Discount)
	if snap.SelectedTable != nil {
		m.store.SelectTable(*snap.SelectedTable)
	}
	if snap.Settings.Currency != "" {
		m.store.SetSettings(snap.Settings)
	}
	if len(snap.Users) > 0 {
		m.store.SetUsers(snap.Users)
	}
	m.startWatchdog()

	m.logger.Info("session restored", "user", snap.User.Name)
	return true, nil
}

// VerifyLocalPIN checks a PIN against the locally stored hash, for unlocking
// a restored session without a round trip.
func (m *Manager) VerifyLocalPIN(staffID, pin string) error {
	if m.creds == nil {
		return store.ErrNoCredential
	}
	return m.creds.Verify(staffID, pin)
}

// Touch records user activity, deferring the inactivity timeout.
func (m *Manager) Touch() {
	m.store.Touch(m.now())
}

// Persist writes the current session, cart, and settings to the local
// snapshot. The persister goroutine calls this on every state change, so an
// explicit call is only needed to force a write outside a session.
func (m *Manager) Persist() {
	m.persist()
}

func (m *Manager) setToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *Manager) persist() {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if m.snapshots == nil || token == "" {
		return
	}
	snap := store.Snapshot{Token: token}
	if user, ok := m.store.User(); ok {
		snap.User = &user
	}
	if shift, ok := m.store.Shift(); ok {
		snap.Shift = &shift
	}
	snap.Cart = m.store.Cart()
	snap.Discount = m.store.Discount()
	if tableID, ok := m.store.SelectedTable(); ok {
		snap.SelectedTable = &tableID
	}
	snap.Settings = m.store.Settings()
	snap.Currency = snap.Settings.Currency
	snap.Users = m.store.Users()

	if err := m.snapshots.Save(snap); err != nil {
		m.logger.Warn("persisting snapshot failed", "error", err)
	}
}

// FetchShift re-fetches the current user's shift and commits it to state.
func (m *Manager) FetchShift(ctx context.Context) error {
	user, ok := m.store.User()
	if !ok {
		return ErrNotAuthenticated
	}
	shift, err := m.remote.CurrentShift(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("fetch shift: %w", err)
	}
	m.store.SetShift(shift)
	return nil
}

// StartShift opens a shift with the given starting cash.
func (m *Manager) StartShift(ctx context.Context, startingCash int64) (model.Shift, error) {
	user, ok := m.store.User()
	if !ok {
		return model.Shift{}, ErrNotAuthenticated
	}
	shift, err := m.remote.StartShift(ctx, user.ID, startingCash)
	if err != nil {
		return model.Shift{}, fmt.Errorf("start shift: %w", err)
	}
	m.store.SetShift(&shift)
	return shift, nil
}

// EndShift closes the current shift with the counted ending cash.
func (m *Manager) EndShift(ctx context.Context, endingCash int64) (model.Shift, error) {
	user, ok := m.store.User()
	if !ok {
		return model.Shift{}, ErrNotAuthenticated
	}
	shift, err := m.remote.EndShift(ctx, user.ID, endingCash)
	if err != nil {
		return model.Shift{}, fmt.Errorf("end shift: %w", err)
	}
	m.store.SetShift(nil)
	return shift, nil
}

// RecordPayment feeds a settled payment into the local shift totals and
// pushes the summary to the service, best effort.
func (m *Manager) RecordPayment(ctx context.Context, orderID int64, method model.PaymentMethod, amount, tip int64) {
	m.store.MutateShift(func(s *model.Shift) {
		s.RecordPayment(method, amount, tip)
	})
	user, ok := m.store.User()
	if !ok {
		return
	}
	summary := posapi.ShiftOrderSummary{OrderID: orderID, Method: method, Amount: amount, Tip: tip}
	if err := m.remote.UpdateShiftTotals(ctx, user.ID, summary); err != nil {
		// The next shift refresh reconciles the totals.
		m.logger.Warn("shift totals push failed", "error", err)
	}
}

// --- inactivity watchdog ---

func (m *Manager) startWatchdog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.pdone = make(chan struct{})
	go m.watch(ctx, m.done)
	go m.repersist(ctx, m.pdone)
}

func (m *Manager) stopWatchdog() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	pdone := m.pdone
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if pdone != nil {
		<-pdone
	}
}

// repersist keeps the restorable snapshot current for the life of a session.
// Cart, table, and shift mutations would otherwise only reach disk at login,
// and a restart would come back with an empty till.
func (m *Manager) repersist(ctx context.Context, done chan struct{}) {
	defer close(done)
	changes, unsubscribe := m.store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-changes:
			switch c {
			case state.ChangedCart, state.ChangedShift, state.ChangedSettings:
				m.persist()
			}
		}
	}
}

func (m *Manager) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.expired() {
				m.expire()
				return
			}
		}
	}
}

func (m *Manager) expired() bool {
	if _, ok := m.store.User(); !ok {
		return true
	}
	return m.now().Sub(m.store.LastActivity()) > m.cfg.Timeout
}

// expire ends the session in place after inactivity. The watchdog goroutine
// has already decided to exit, so only the cancel handle needs clearing. The
// persister must be down before the snapshot is cleared, or a late change
// notification could write it right back.
func (m *Manager) expire() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	pdone := m.pdone
	m.token = ""
	m.mu.Unlock()
	if pdone != nil {
		<-pdone
	}

	m.store.ClearSession()
	m.store.ClearCart()
	m.remote.SetToken("")
	if m.snapshots != nil {
		if err := m.snapshots.Clear(); err != nil {
			m.logger.Warn("clearing snapshot failed", "error", err)
		}
	}
	if m.onEnd != nil {
		m.onEnd()
	}
	m.logger.Info("session expired after inactivity", "timeout", m.cfg.Timeout)
}
