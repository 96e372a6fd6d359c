// Package store persists the terminal state that must survive a restart: the
// current session, cart, and cached settings, plus the local PIN hashes used
// to re-validate a restored session offline.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harborpos/till/internal/model"
)

// SnapshotVersion is the current snapshot schema version. Older persisted
// snapshots are migrated forward on load.
const SnapshotVersion = 2

// Snapshot is the restorable terminal state.
type Snapshot struct {
	Version       int                    `json:"version"`
	User          *model.User            `json:"user,omitempty"`
	Token         string                 `json:"token,omitempty"`
	Shift         *model.Shift           `json:"shift,omitempty"`
	Cart          []model.CartItem       `json:"cart,omitempty"`
	SelectedTable *int64                 `json:"selected_table,omitempty"`
	Discount      model.Discount         `json:"discount"`
	Currency      string                 `json:"currency,omitempty"`
	Settings      model.BusinessSettings `json:"settings"`
	Users         []model.User           `json:"users,omitempty"`
	SavedAt       time.Time              `json:"saved_at"`
}

// SnapshotStore reads and writes the single terminal snapshot row.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists the snapshot, stamping it with the current schema version.
func (s *SnapshotStore) Save(snap Snapshot) error {
	snap.Version = SnapshotVersion
	snap.SavedAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (id, version, data, updated_at)
		VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		snap.Version, string(data))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the persisted snapshot migrated to the current version, or
// (nil, nil) when none has been saved.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	var version int
	var data string
	err := s.db.QueryRow(`SELECT version, data FROM snapshots WHERE id = 1`).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version == 0 {
		snap.Version = version
	}
	migrate(&snap)
	return &snap, nil
}

// Clear removes the persisted snapshot.
func (s *SnapshotStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE id = 1`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// migrate backfills fields that older snapshot versions did not carry.
func migrate(snap *Snapshot) {
	if snap.Version < 2 {
		// v1 predates table selection and cart discounts.
		snap.SelectedTable = nil
		if snap.Discount.Type == "" {
			snap.Discount = model.Discount{Type: model.DiscountNone}
		}
	}
	if snap.Discount.Type == "" {
		snap.Discount.Type = model.DiscountNone
	}
	snap.Version = SnapshotVersion
}
