package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_FreshDatabaseIsCurrent(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
	assert.True(t, tableExists(s.db, "runs"))
	assert.True(t, columnExists(s.db, "runs", "console_lines"))
	assert.False(t, columnExists(s.db, "runs", "no_such_column"))
}

func TestOpen_ReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, SetSchemaVersion(db, CurrentSchemaVersion+1))
	require.NoError(t, db.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestGetSchemaVersion_Empty(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 0, GetSchemaVersion(db))
	assert.False(t, tableExists(db, "runs"))
}
