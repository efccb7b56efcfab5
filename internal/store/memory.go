package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/diptrack/diptrack/internal/resource"
)

// Memory is a non-durable backend for tests and ephemeral agents.
// Cached collections are kept as JSON so callers never share maps with the store.
type Memory struct {
	mu      sync.Mutex
	actions map[string]Action
	cache   map[string]cacheEntry
	seq     int64
	opts    options
}

type cacheEntry struct {
	body     []byte
	cachedAt time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		actions: make(map[string]Action),
		cache:   make(map[string]cacheEntry),
		opts:    applyOptions(opts),
	}
}

func (m *Memory) StoreOfflineAction(ctx context.Context, kind resource.Kind, verb resource.Verb, payload json.RawMessage, opts ...ActionOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a, err := m.opts.newAction(kind, verb, payload, opts)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.actions[a.ID]; exists {
		return "", fmt.Errorf("store offline action: duplicate id %q", a.ID)
	}
	m.seq++
	a.Seq = m.seq
	m.actions[a.ID] = a
	return a.ID, nil
}

func (m *Memory) CacheData(ctx context.Context, key string, data []resource.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data == nil {
		data = []resource.Record{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = cacheEntry{body: body, cachedAt: m.opts.now().UTC()}
	return nil
}

func (m *Memory) GetCachedData(ctx context.Context, key string) (Collection, bool, error) {
	if err := ctx.Err(); err != nil {
		return Collection{}, false, err
	}

	m.mu.Lock()
	entry, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		return Collection{}, false, nil
	}

	data, err := decodeCollection(entry.body)
	if err != nil {
		return Collection{}, false, fmt.Errorf("get cached data: %w", err)
	}
	return Collection{Key: key, Data: data, CachedAt: entry.cachedAt}, true, nil
}

// GetUnsyncedActions returns actions in map iteration order.
func (m *Memory) GetUnsyncedActions(ctx context.Context) ([]Action, error) {
	return m.filter(ctx, func(a Action) bool { return !a.Synced })
}

func (m *Memory) DeadLetters(ctx context.Context) ([]Action, error) {
	return m.filter(ctx, func(a Action) bool { return !a.Synced && a.DeadLettered })
}

func (m *Memory) filter(ctx context.Context, keep func(Action) bool) ([]Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Action{}
	for _, a := range m.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) MarkAsSynced(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.actions[id]; ok && !a.Synced {
		a.Synced = true
		m.actions[id] = a
	}
	return nil
}

func (m *Memory) ClearSyncedActions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, a := range m.actions {
		if a.Synced {
			delete(m.actions, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordFailure(ctx context.Context, id string, f Failure) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[id]
	if !ok || a.Synced {
		return nil
	}
	a.Attempts = f.Attempts
	a.NextAttemptAt = f.NextAttemptAt
	a.LastError = f.LastError
	a.DeadLettered = f.DeadLetter
	m.actions[id] = a
	return nil
}

func (m *Memory) Requeue(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[id]
	if !ok || a.Synced {
		return fmt.Errorf("requeue %q: %w", id, ErrNotFound)
	}
	a.Attempts = 0
	a.NextAttemptAt = time.Time{}
	a.LastError = ""
	a.DeadLettered = false
	m.actions[id] = a
	return nil
}

func (m *Memory) InvalidateCache(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

func (m *Memory) ClearCache(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]cacheEntry)
	return nil
}

func (m *Memory) Close() error { return nil }
