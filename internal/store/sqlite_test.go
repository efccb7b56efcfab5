package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diptrack/diptrack/internal/resource"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"offline_actions", "cached_data"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}
}

func TestOpenSQLite_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offline.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	id, err := s1.StoreOfflineAction(ctx, resource.FieldLatex, resource.VerbCreate, json.RawMessage(`{"supplierLotId":"L1"}`))
	require.NoError(t, err)
	require.NoError(t, s1.CacheData(ctx, "field_latex", []resource.Record{{"id": "x"}}))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	actions, err := s2.GetUnsyncedActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, id, actions[0].ID)

	_, ok, err := s2.GetCachedData(ctx, "field_latex")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestOpenSQLite_EmptyPathIsUnavailable(t *testing.T) {
	_, err := OpenSQLite("")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpenSQLite_UnwritableDirectoryIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "offline.db")
	_, err := OpenSQLite(path)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpenSQLite_MigratesV1Log(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE offline_actions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			verb TEXT NOT NULL,
			payload TEXT NOT NULL,
			temp_id TEXT NOT NULL DEFAULT '',
			enqueued_at INTEGER NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		);
		INSERT INTO offline_actions (id, kind, verb, payload, enqueued_at)
		VALUES ('batches_create_1_old', 'batches', 'create', '{}', 1);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("user_version", "2"))

	actions, err := s.GetUnsyncedActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "batches_create_1_old", actions[0].ID)
	assert.Zero(t, actions[0].Attempts)
	assert.False(t, actions[0].DeadLettered)
}
