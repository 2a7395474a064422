package session_test

import (
	"testing"

	"github.com/cineview/cineview/internal/database"
	"github.com/cineview/cineview/internal/session"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

func newTestDB(t *testing.T) database.Manager {
	db := database.New()
	require.Nil(t, db.Connect(database.DatabaseConfig{Path: ":memory:"}))
	t.Cleanup(func() { db.Close() })

	return db
}

func Test_Current_ErrorsBeforeFirstEnsure(t *testing.T) {
	db := newTestDB(t)
	store := session.NewStore()

	_, err := store.Current(db.GetSqlxDb())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func Test_Ensure_IssuesStableIdentifier(t *testing.T) {
	db := newTestDB(t)
	store := session.NewStore()

	first, err := store.Ensure(db.GetSqlxDb())
	require.Nil(t, err)
	_, err = uuid.Parse(first)
	assert.Nil(t, err, "session id should be a valid UUID")

	second, err := store.Ensure(db.GetSqlxDb())
	require.Nil(t, err)
	assert.Equal(t, first, second)
}

func Test_Clear_ForcesFreshSessionOnNextEnsure(t *testing.T) {
	db := newTestDB(t)
	store := session.NewStore()

	first, err := store.Ensure(db.GetSqlxDb())
	require.Nil(t, err)

	require.Nil(t, store.Clear(db.GetSqlxDb()))
	_, err = store.Current(db.GetSqlxDb())
	assert.ErrorIs(t, err, session.ErrNoSession)

	next, err := store.Ensure(db.GetSqlxDb())
	require.Nil(t, err)
	assert.NotEqual(t, first, next)
}
