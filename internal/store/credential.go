package store

import (
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoCredential is returned when no PIN hash is stored for a staff id.
var ErrNoCredential = errors.New("store: no stored credential")

// CredentialStore keeps bcrypt hashes of staff PINs so a persisted session
// can be re-validated without reaching the POS service.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Save stores the PIN hash for a user, replacing any previous one.
func (s *CredentialStore) Save(userID int64, staffID, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO credentials (user_id, staff_id, pin_hash, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			staff_id = excluded.staff_id,
			pin_hash = excluded.pin_hash,
			updated_at = CURRENT_TIMESTAMP`,
		userID, staffID, string(hash))
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Verify checks a PIN against the stored hash for the staff id.
func (s *CredentialStore) Verify(staffID, pin string) error {
	var hash string
	err := s.db.QueryRow(`SELECT pin_hash FROM credentials WHERE staff_id = ?`, staffID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoCredential
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return fmt.Errorf("verify pin: %w", err)
	}
	return nil
}

// Delete removes the stored credential for a user.
func (s *CredentialStore) Delete(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
