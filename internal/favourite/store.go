// Package favourite persists the set of favourited movie identifiers. The set
// is stored independently of the movie cache: an id may be favourited while no
// matching movie row exists locally, and reconciling that gap is the library
// service's job, not this store's.
package favourite

import (
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/cineview/cineview/internal/database"
)

// The favourite set is persisted as a single comma-joined value in the
// preferences table rather than a dedicated table; the set is tiny, always
// read whole, and always replaced whole.
const favouriteIDsKey = "favourite_ids"

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// IDs returns the current favourite identifier set. An absent or blank
// persisted value is an empty set, not an error.
func (store *Store) IDs(db database.Queryable) (map[int]struct{}, error) {
	raw, err := store.rawValue(db)
	if err != nil {
		return nil, err
	}

	ids := make(map[int]struct{})
	if raw == "" {
		return ids, nil
	}

	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ids[id] = struct{}{}
		}
	}

	return ids, nil
}

// IDList returns the favourite identifiers as a sorted slice, convenient for
// SQL IN clauses and deterministic test assertions.
func (store *Store) IDList(db database.Queryable) ([]int, error) {
	set, err := store.IDs(db)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids, nil
}

func (store *Store) IsFavourite(db database.Queryable, id int) (bool, error) {
	set, err := store.IDs(db)
	if err != nil {
		return false, err
	}

	_, ok := set[id]
	return ok, nil
}

// Toggle flips the membership of the provided id. The read-modify-write is
// computed against the latest committed value; callers run it inside a write
// transaction so two concurrent toggles cannot lose an update.
func (store *Store) Toggle(db database.Queryable, id int) error {
	set, err := store.IDs(db)
	if err != nil {
		return err
	}

	if _, ok := set[id]; ok {
		delete(set, id)
	} else {
		set[id] = struct{}{}
	}

	ids := make([]int, 0, len(set))
	for v := range set {
		ids = append(ids, v)
	}
	sort.Ints(ids)

	parts := make([]string, len(ids))
	for k, v := range ids {
		parts[k] = strconv.Itoa(v)
	}

	_, err = db.Exec(`
		INSERT INTO preferences(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, favouriteIDsKey, strings.Join(parts, ","))
	return err
}

func (store *Store) rawValue(db database.Queryable) (string, error) {
	var value string
	if err := db.Get(&value, `SELECT value FROM preferences WHERE key = ?`, favouriteIDsKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", err
	}

	return value, nil
}
