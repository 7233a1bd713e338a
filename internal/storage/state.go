package storage

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides JSON document storage keyed by (kind, id)
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new document store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves the payload for a resource. Returns nil if not found.
func (s *Store) Get(kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return []byte(payload), nil
}

// Set stores payload, replacing any previous one
func (s *Store) Set(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	_, err := s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), now)

	if err == nil {
		log.Debug().
			Str("kind", kind).
			Str("id", id).
			Msg("Store.Set completed")
	}

	return err
}

// Clear removes all entries for a kind. If kind is empty, clears everything.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// GetAll returns all payloads for a kind keyed by id
func (s *Store) GetAll(kind string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, payload FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payloads := make(map[string][]byte)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		payloads[id] = []byte(payload)
	}

	return payloads, rows.Err()
}
