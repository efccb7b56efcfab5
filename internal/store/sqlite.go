package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/diptrack/diptrack/internal/resource"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - action log and cache table
// 2 - retry bookkeeping columns on offline_actions
const currentSchemaVersion = 2

// SQLite is the default durable backend.
type SQLite struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens a database at path.
//
// The database is configured with:
//   - WAL mode so status reads do not block replay writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, which serializes read-modify-write operations
//
// Opening the same path repeatedly is safe.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, unavailable("open sqlite", errors.New("empty path"))
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("connect sqlite", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, unavailable("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, unavailable("apply schema", err)
	}

	return &SQLite{db: db, opts: applyOptions(opts)}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 adds retry bookkeeping to logs created before dead-lettering existed.
// Fresh databases already have the columns from schema.sql.
func migrateToV2(db *sql.DB) error {
	columns := []struct{ name, ddl string }{
		{"attempts", "INTEGER NOT NULL DEFAULT 0"},
		{"next_attempt_at", "INTEGER NOT NULL DEFAULT 0"},
		{"last_error", "TEXT NOT NULL DEFAULT ''"},
		{"dead_lettered", "INTEGER NOT NULL DEFAULT 0"},
	}

	for _, col := range columns {
		ok, err := hasColumn(db, "offline_actions", col.name)
		if err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE offline_actions ADD COLUMN %s %s", col.name, col.ddl)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// StoreOfflineAction inserts a new action. Ids are never reused, so a
// conflicting id is an error rather than a silent overwrite.
func (s *SQLite) StoreOfflineAction(ctx context.Context, kind resource.Kind, verb resource.Verb, payload json.RawMessage, opts ...ActionOption) (string, error) {
	a, err := s.opts.newAction(kind, verb, payload, opts)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_actions (id, kind, verb, payload, temp_id, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		string(a.Kind),
		string(a.Verb),
		string(a.Payload),
		a.TempID,
		a.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("store offline action: %w", err)
	}
	return a.ID, nil
}

// CacheData upserts the collection for key.
func (s *SQLite) CacheData(ctx context.Context, key string, data []resource.Record) error {
	if data == nil {
		data = []resource.Record{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_data (key, kind, data, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			data = excluded.data,
			cached_at = excluded.cached_at
	`, key, key, string(body), s.opts.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("cache data: %w", err)
	}
	return nil
}

// GetCachedData returns the collection stored under key.
func (s *SQLite) GetCachedData(ctx context.Context, key string) (Collection, bool, error) {
	var (
		body     string
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, cached_at FROM cached_data WHERE key = ?
	`, key).Scan(&body, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, fmt.Errorf("get cached data: %w", err)
	}

	data, err := decodeCollection([]byte(body))
	if err != nil {
		return Collection{}, false, fmt.Errorf("get cached data: %w", err)
	}
	return Collection{Key: key, Data: data, CachedAt: time.Unix(0, cachedAt).UTC()}, true, nil
}

// GetUnsyncedActions returns unsynced actions in insertion order.
func (s *SQLite) GetUnsyncedActions(ctx context.Context) ([]Action, error) {
	return s.queryActions(ctx, `WHERE synced = 0`)
}

// DeadLetters returns unsynced actions flagged as dead letters.
func (s *SQLite) DeadLetters(ctx context.Context) ([]Action, error) {
	return s.queryActions(ctx, `WHERE synced = 0 AND dead_lettered = 1`)
}

func (s *SQLite) queryActions(ctx context.Context, where string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, verb, payload, temp_id, enqueued_at, synced,
		       attempts, next_attempt_at, last_error, dead_lettered
		FROM offline_actions
		`+where+`
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

func scanAction(rows *sql.Rows) (Action, error) {
	var (
		a             Action
		kind, verb    string
		payload       string
		enqueuedAt    int64
		nextAttemptAt int64
		synced, dead  bool
	)
	err := rows.Scan(
		&a.Seq, &a.ID, &kind, &verb, &payload, &a.TempID, &enqueuedAt, &synced,
		&a.Attempts, &nextAttemptAt, &a.LastError, &dead,
	)
	if err != nil {
		return Action{}, fmt.Errorf("scan action: %w", err)
	}

	a.Kind = resource.Kind(kind)
	a.Verb = resource.Verb(verb)
	a.Payload = json.RawMessage(payload)
	a.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	if nextAttemptAt != 0 {
		a.NextAttemptAt = time.Unix(0, nextAttemptAt).UTC()
	}
	a.Synced = synced
	a.DeadLettered = dead
	return a, nil
}

// MarkAsSynced flips the synced flag. Already synced or missing ids are a no-op.
func (s *SQLite) MarkAsSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE offline_actions SET synced = 1 WHERE id = ? AND synced = 0
	`, id)
	if err != nil {
		return fmt.Errorf("mark as synced: %w", err)
	}
	return nil
}

// ClearSyncedActions deletes every synced action.
func (s *SQLite) ClearSyncedActions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("clear synced actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear synced actions: %w", err)
	}
	return n, nil
}

// RecordFailure stores retry bookkeeping for an unsynced action.
func (s *SQLite) RecordFailure(ctx context.Context, id string, f Failure) error {
	var next int64
	if !f.NextAttemptAt.IsZero() {
		next = f.NextAttemptAt.UTC().UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE offline_actions
		SET attempts = ?, next_attempt_at = ?, last_error = ?, dead_lettered = ?
		WHERE id = ? AND synced = 0
	`, f.Attempts, next, f.LastError, f.DeadLetter, id)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Requeue resets retry bookkeeping on an unsynced action.
func (s *SQLite) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_actions
		SET attempts = 0, next_attempt_at = 0, last_error = '', dead_lettered = 0
		WHERE id = ? AND synced = 0
	`, id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("requeue %q: %w", id, ErrNotFound)
	}
	return nil
}

// InvalidateCache deletes the collection stored under key.
func (s *SQLite) InvalidateCache(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_data WHERE key = ?`, key); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

// ClearCache deletes every cached collection.
func (s *SQLite) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_data`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// decodeCollection parses stored cache JSON into records.
func decodeCollection(body []byte) ([]resource.Record, error) {
	var data []resource.Record
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = []resource.Record{}
	}
	return data, nil
}
