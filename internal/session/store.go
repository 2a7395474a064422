// Package session persists the process-wide session identifier. The id is
// issued once on first boot and survives restarts; clearing it simulates a
// fresh install without touching the movie cache.
package session

import (
	"database/sql"
	"errors"

	"github.com/cineview/cineview/internal/database"
	"github.com/google/uuid"
)

const sessionIDKey = "session_id"

var ErrNoSession = errors.New("no session has been saved")

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (store *Store) Current(db database.Queryable) (string, error) {
	var value string
	if err := db.Get(&value, `SELECT value FROM preferences WHERE key = ?`, sessionIDKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoSession
		}

		return "", err
	}

	if value == "" {
		return "", ErrNoSession
	}

	return value, nil
}

func (store *Store) Save(db database.Queryable, id string) error {
	_, err := db.Exec(`
		INSERT INTO preferences(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, sessionIDKey, id)
	return err
}

func (store *Store) Clear(db database.Queryable) error {
	_, err := db.Exec(`DELETE FROM preferences WHERE key = ?`, sessionIDKey)
	return err
}

// Ensure retrieves the current session id, issuing and persisting a fresh one
// if none exists yet.
func (store *Store) Ensure(db database.Queryable) (string, error) {
	current, err := store.Current(db)
	if err == nil {
		return current, nil
	}

	if !errors.Is(err, ErrNoSession) {
		return "", err
	}

	id := uuid.NewString()
	if err := store.Save(db, id); err != nil {
		return "", err
	}

	return id, nil
}
