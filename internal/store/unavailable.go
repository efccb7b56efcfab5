package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diptrack/diptrack/internal/resource"
)

// Unavailable stands in when no durable store could be opened.
// Reads report nothing cached and nothing pending, cache writes are dropped,
// and queuing an action fails with ErrStorageUnavailable so the facade can
// tell the caller the change was not saved.
type Unavailable struct {
	Cause error
}

var _ Store = Unavailable{}

func (u Unavailable) StoreOfflineAction(context.Context, resource.Kind, resource.Verb, json.RawMessage, ...ActionOption) (string, error) {
	if u.Cause != nil {
		return "", fmt.Errorf("store offline action: %w: %w", ErrStorageUnavailable, u.Cause)
	}
	return "", fmt.Errorf("store offline action: %w", ErrStorageUnavailable)
}

func (Unavailable) CacheData(context.Context, string, []resource.Record) error { return nil }

func (Unavailable) GetCachedData(context.Context, string) (Collection, bool, error) {
	return Collection{}, false, nil
}

func (Unavailable) GetUnsyncedActions(context.Context) ([]Action, error) { return []Action{}, nil }

func (Unavailable) MarkAsSynced(context.Context, string) error { return nil }

func (Unavailable) ClearSyncedActions(context.Context) (int64, error) { return 0, nil }

func (Unavailable) RecordFailure(context.Context, string, Failure) error { return nil }

func (Unavailable) DeadLetters(context.Context) ([]Action, error) { return []Action{}, nil }

func (Unavailable) Requeue(_ context.Context, id string) error {
	return fmt.Errorf("requeue %q: %w", id, ErrNotFound)
}

func (Unavailable) InvalidateCache(context.Context, string) error { return nil }

func (Unavailable) ClearCache(context.Context) error { return nil }

func (Unavailable) Close() error { return nil }
