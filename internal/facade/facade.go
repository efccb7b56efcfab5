// Package facade gives callers one offline-capable view per resource kind.
//
// Reads go to the API when the device is online and fall back to the local
// cache otherwise. Writes go to the API when possible and to the offline
// queue when not, with an optimistic record shown in the meantime. Sync
// failures never surface here; callers get data plus a status line.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/metrics"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

// Status lines reported with fallback data.
const (
	StatusServerUnavailable = "Using cached data - server unavailable"
	StatusOffline           = "Offline mode - using cached data"
	StatusNetworkError      = "Network error - using cached data"
	StatusNoCache           = "No cached data available"
	StatusLoadFailed        = "Failed to load data"
	StatusQueued            = "Saved offline - will sync when online"
	StatusNotSaved          = "Could not save offline - change was not queued"
)

var (
	// ErrInvalidPayload is returned by CreateData for payloads that fail validation.
	ErrInvalidPayload = resource.ErrInvalidPayload

	// ErrUnsupportedVerb is returned when the kind's route does not accept the write.
	ErrUnsupportedVerb = resource.ErrUnsupportedVerb

	// ErrPendingCreate is returned by UpdateData and DeleteData for a temp id.
	// The record has no server id until its create syncs, so the write could
	// never be replayed against the right resource.
	ErrPendingCreate = errors.New("record has not synced yet")
)

// Source says where Result.Data came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceNone    Source = "none"
)

// Result is the outcome of a read.
type Result struct {
	Data   []resource.Record `json:"data"`
	Source Source            `json:"source"`
	Status string            `json:"status,omitempty"`
	Online bool              `json:"online"`
}

// WriteResult is the outcome of a write.
type WriteResult struct {
	Record   resource.Record `json:"record,omitempty"`
	Queued   bool            `json:"queued"`
	ActionID string          `json:"action_id,omitempty"`
	Status   string          `json:"status,omitempty"`
}

// Client is the subset of the API client a facade uses.
type Client interface {
	List(ctx context.Context, endpoint string) ([]resource.Record, error)
	Create(ctx context.Context, endpoint string, payload []byte) (resource.Record, error)
	Send(ctx context.Context, req resource.Request, idempotencyKey string) ([]byte, error)
}

// Connectivity reports the network belief.
type Connectivity interface {
	IsOnline() bool
}

// Syncer is the coordinator, used by ForceSync and PendingSync.
type Syncer interface {
	ForceSync(ctx context.Context) (engine.Report, error)
	GetSyncStatus(ctx context.Context) (engine.Status, error)
}

// Deps are the collaborators shared by every facade.
type Deps struct {
	Store   store.Store
	API     Client
	Monitor Connectivity

	// Sync is optional; without it ForceSync and PendingSync report ErrNoSyncer.
	Sync Syncer

	// Validator is optional; a shared validator is used when nil.
	Validator *resource.Validator

	Metrics *metrics.Recorder
}

// ErrNoSyncer is returned by ForceSync and PendingSync when Deps.Sync is nil.
var ErrNoSyncer = errors.New("facade: no sync coordinator configured")

var sharedValidator = sync.OnceValue(resource.MustValidator)

// Facade is the offline-capable data access object for one resource kind.
type Facade struct {
	route  resource.Route
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	suffix func() string

	mu   sync.Mutex
	data []resource.Record
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithClock sets the clock used for temp ids and placeholders.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// WithTempSuffix replaces the random 9-character temp id suffix.
func WithTempSuffix(gen func() string) Option {
	return func(f *Facade) { f.suffix = gen }
}

// New creates a facade for route.
func New(route resource.Route, deps Deps, opts ...Option) *Facade {
	f := &Facade{
		route:  route,
		deps:   deps,
		logger: slog.Default(),
		now:    time.Now,
		suffix: randomSuffix,
		data:   []resource.Record{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.deps.Validator == nil {
		f.deps.Validator = sharedValidator()
	}
	f.logger = f.logger.With("kind", string(route.Kind))
	return f
}

// ForKind looks up the route for kind and creates its facade.
func ForKind(kind resource.Kind, deps Deps, opts ...Option) (*Facade, error) {
	route, ok := resource.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", resource.ErrUnknownKind, kind)
	}
	return New(route, deps, opts...), nil
}

// Route returns the facade's route.
func (f *Facade) Route() resource.Route {
	return f.route
}

// Data returns a copy of the in-memory snapshot.
func (f *Facade) Data() []resource.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]resource.Record, len(f.data))
	copy(out, f.data)
	return out
}

func (f *Facade) setData(data []resource.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
}

// FetchData loads the collection, preferring the API when online.
func (f *Facade) FetchData(ctx context.Context) Result {
	online := f.deps.Monitor.IsOnline()

	if !online {
		f.logger.Debug("offline, reading from cache")
		return f.fromCache(ctx, online, StatusOffline)
	}

	data, err := f.deps.API.List(ctx, f.route.Endpoint)
	if err == nil {
		if err := f.deps.Store.CacheData(ctx, f.route.CacheKey, data); err != nil {
			f.logger.Warn("failed to cache fresh data", "error", err)
		}
		f.setData(data)
		f.deps.Metrics.ObserveFetch(string(f.route.Kind), string(SourceNetwork))
		f.logger.Debug("fetched from API", "count", len(data))
		return Result{Data: data, Source: SourceNetwork, Online: true}
	}

	if api.IsServerError(err) {
		f.logger.Warn("server error, falling back to cache", "error", err)
		return f.fromCache(ctx, online, StatusServerUnavailable)
	}
	f.logger.Warn("network error, falling back to cache", "error", err)
	return f.fromCache(ctx, online, StatusNetworkError)
}

// Refresh refetches the collection. It is FetchData under the name the
// dashboard uses for its reload button.
func (f *Facade) Refresh(ctx context.Context) Result {
	return f.FetchData(ctx)
}

func (f *Facade) fromCache(ctx context.Context, online bool, status string) Result {
	coll, ok, err := f.deps.Store.GetCachedData(ctx, f.route.CacheKey)
	switch {
	case err != nil:
		f.logger.Error("cache read failed", "error", err)
		f.setData([]resource.Record{})
		f.deps.Metrics.ObserveFetch(string(f.route.Kind), string(SourceNone))
		return Result{Data: []resource.Record{}, Source: SourceNone, Status: StatusLoadFailed, Online: online}
	case !ok:
		f.setData([]resource.Record{})
		f.deps.Metrics.ObserveFetch(string(f.route.Kind), string(SourceNone))
		return Result{Data: []resource.Record{}, Source: SourceNone, Status: StatusNoCache, Online: online}
	}

	data := coll.Data
	if data == nil {
		data = []resource.Record{}
	}
	f.setData(data)
	f.deps.Metrics.ObserveFetch(string(f.route.Kind), string(SourceCache))
	return Result{Data: data, Source: SourceCache, Status: status, Online: online}
}

// ForceSync runs a sync pass and then refetches, mirroring a manual
// "sync now". It returns engine.ErrOffline without doing either while
// offline.
func (f *Facade) ForceSync(ctx context.Context) (engine.Report, Result, error) {
	if f.deps.Sync == nil {
		return engine.Report{}, Result{}, ErrNoSyncer
	}
	if !f.deps.Monitor.IsOnline() {
		return engine.Report{}, Result{}, engine.ErrOffline
	}

	report, err := f.deps.Sync.ForceSync(ctx)
	if err != nil {
		return report, Result{}, err
	}
	return report, f.FetchData(ctx), nil
}

// PendingSync returns the number of actions waiting for replay.
func (f *Facade) PendingSync(ctx context.Context) (int, error) {
	if f.deps.Sync == nil {
		return 0, ErrNoSyncer
	}
	st, err := f.deps.Sync.GetSyncStatus(ctx)
	if err != nil {
		return 0, err
	}
	return st.PendingActions, nil
}
