// Package store persists the offline action log and the read cache.
//
// Two logical collections live in every backend:
//
//   - offline_actions: pending writes keyed by an opaque id, with lookups by
//     resource kind and by synced flag.
//   - cached_data: one collection per cache key, overwritten on every refresh.
//
// Backends serialize their own read-modify-write operations, so callers never
// need to lock around MarkAsSynced, RecordFailure or ClearSyncedActions.
// GetUnsyncedActions makes no ordering promise; replay order is the caller's
// job.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diptrack/diptrack/internal/canonical"
	"github.com/diptrack/diptrack/internal/resource"
)

var (
	// ErrStorageUnavailable marks a store that could not be opened.
	// Callers degrade to server-only behavior when they see it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by Requeue when no unsynced action has the id.
	ErrNotFound = errors.New("action not found")
)

// Action is one queued mutation awaiting replay.
type Action struct {
	ID            string          `json:"id"`
	Kind          resource.Kind   `json:"table"`
	Verb          resource.Verb   `json:"action"`
	Payload       json.RawMessage `json:"data"`
	TempID        string          `json:"temp_id,omitempty"`
	EnqueuedAt    time.Time       `json:"timestamp"`
	Seq           int64           `json:"seq"`
	Synced        bool            `json:"synced"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitzero"`
	LastError     string          `json:"last_error,omitempty"`
	DeadLettered  bool            `json:"dead_lettered"`
}

// Due reports whether the action may be replayed at now.
func (a Action) Due(now time.Time) bool {
	return !a.DeadLettered && !a.NextAttemptAt.After(now)
}

// Collection is the cached list for one key.
type Collection struct {
	Key      string            `json:"key"`
	Data     []resource.Record `json:"data"`
	CachedAt time.Time         `json:"cached_at"`
}

// Failure records the outcome of an unsuccessful replay.
type Failure struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	DeadLetter    bool
}

// Store is the durable local store shared by facades and the sync engine.
type Store interface {
	// StoreOfflineAction appends an unsynced action and returns its id.
	// The action is durable once the call returns without error.
	StoreOfflineAction(ctx context.Context, kind resource.Kind, verb resource.Verb, payload json.RawMessage, opts ...ActionOption) (string, error)

	// CacheData overwrites the collection stored under key.
	CacheData(ctx context.Context, key string, data []resource.Record) error

	// GetCachedData returns the collection for key; ok is false when absent.
	GetCachedData(ctx context.Context, key string) (c Collection, ok bool, err error)

	// GetUnsyncedActions returns every action with Synced=false, dead letters included.
	GetUnsyncedActions(ctx context.Context) ([]Action, error)

	// MarkAsSynced flags an action as synced. Unknown ids are ignored.
	MarkAsSynced(ctx context.Context, id string) error

	// ClearSyncedActions deletes synced actions and returns how many were removed.
	ClearSyncedActions(ctx context.Context) (int64, error)

	// RecordFailure stores retry bookkeeping for an unsynced action.
	// Unknown or already synced ids are ignored.
	RecordFailure(ctx context.Context, id string, f Failure) error

	// DeadLetters returns unsynced actions that will no longer be replayed.
	DeadLetters(ctx context.Context) ([]Action, error)

	// Requeue clears retry bookkeeping so a dead letter is replayed again.
	Requeue(ctx context.Context, id string) error

	// InvalidateCache drops the collection stored under key.
	InvalidateCache(ctx context.Context, key string) error

	// ClearCache drops every cached collection.
	ClearCache(ctx context.Context) error

	Close() error
}

// ActionOption adjusts a single StoreOfflineAction call.
type ActionOption func(*Action)

// WithTempID links the action to the optimistic record shown for it.
func WithTempID(id string) ActionOption {
	return func(a *Action) {
		a.TempID = id
	}
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
	ids IDGenerator
}

func defaultOptions() options {
	return options{
		now: time.Now,
		ids: UUIDv7Generator{},
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source used for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator sets the generator for the unique suffix of action ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// newAction validates the request and builds the record every backend inserts.
// Seq is left for the backend to assign.
func (o options) newAction(kind resource.Kind, verb resource.Verb, payload json.RawMessage, opts []ActionOption) (Action, error) {
	if kind == "" {
		return Action{}, fmt.Errorf("store offline action: empty kind")
	}
	if _, err := resource.ParseVerb(string(verb)); err != nil {
		return Action{}, fmt.Errorf("store offline action: %w", err)
	}

	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	norm, err := canonical.Normalize(payload)
	if err != nil {
		return Action{}, fmt.Errorf("store offline action: payload: %w", err)
	}

	now := o.now().UTC()
	a := Action{
		ID:         fmt.Sprintf("%s_%s_%d_%s", kind, verb, now.UnixMilli(), o.ids.Generate()),
		Kind:       kind,
		Verb:       verb,
		Payload:    json.RawMessage(norm),
		EnqueuedAt: now,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a, nil
}

// unavailable wraps a backend open failure so callers can match ErrStorageUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Driver selects a backend.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// Open opens the backend selected by driver. dsn is a file path for sqlite
// and a redis:// URL for redis; it is ignored for memory.
func Open(ctx context.Context, driver Driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := OpenSQLite(dsn, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(opts...), nil
	case DriverRedis:
		r, err := OpenRedis(ctx, dsn, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, unavailable("open store", fmt.Errorf("unknown driver %q", driver))
	}
}
