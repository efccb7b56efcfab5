package facade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

// CreateData creates a record. Online, it posts to the API and prepends
// the server's record. Offline, or when the post fails, it queues the
// create and prepends a placeholder carrying a temp id.
func (f *Facade) CreateData(ctx context.Context, payload resource.Record) (WriteResult, error) {
	if !f.route.Supports(resource.VerbCreate) {
		return WriteResult{}, fmt.Errorf("%w: create on %s", ErrUnsupportedVerb, f.route.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := f.deps.Validator.Validate(f.route.Kind, resource.VerbCreate, body); err != nil {
		return WriteResult{}, err
	}

	now := f.now()
	tempID := newTempID(now, f.suffix())
	placeholder := resource.PlaceholderFor(f.route.Kind)(tempID, payload, now)

	if f.deps.Monitor.IsOnline() {
		rec, err := f.deps.API.Create(ctx, f.route.Endpoint, body)
		if err == nil {
			if rec == nil {
				rec = payload.Clone()
			}
			f.mutateCache(ctx, func(data []resource.Record) []resource.Record {
				return resource.Prepend(data, rec)
			})
			f.logger.Info("created via API", "id", rec.ID())
			return WriteResult{Record: rec}, nil
		}
		f.logger.Warn("create failed, queueing for sync", "error", err)
	}

	return f.queue(ctx, resource.VerbCreate, body, placeholder, func(data []resource.Record) []resource.Record {
		return resource.Prepend(data, placeholder)
	}, store.WithTempID(tempID)), nil
}

// UpdateData applies patch to the record with id.
func (f *Facade) UpdateData(ctx context.Context, id string, patch resource.Record) (WriteResult, error) {
	if !f.route.Supports(resource.VerbUpdate) {
		return WriteResult{}, fmt.Errorf("%w: update on %s", ErrUnsupportedVerb, f.route.Kind)
	}
	if IsTempID(id) {
		return WriteResult{}, fmt.Errorf("%w: update %s %s", ErrPendingCreate, f.route.Kind, id)
	}

	payload := patch.Clone()
	payload["id"] = id
	body, err := json.Marshal(payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	merge := func(data []resource.Record) []resource.Record {
		out := make([]resource.Record, len(data))
		for i, rec := range data {
			if rec.ID() == id {
				merged := rec.Clone()
				for k, v := range payload {
					merged[k] = v
				}
				rec = merged
			}
			out[i] = rec
		}
		return out
	}

	if f.deps.Monitor.IsOnline() {
		req, err := f.route.Request(resource.VerbUpdate, body)
		if err != nil {
			return WriteResult{}, err
		}
		resp, err := f.deps.API.Send(ctx, req, "")
		if err == nil {
			rec := api.DecodeRecord(resp)
			apply := merge
			if rec != nil {
				apply = func(data []resource.Record) []resource.Record {
					out, _ := resource.ReplaceByID(data, id, rec)
					return out
				}
			} else {
				rec = payload
			}
			f.mutateCache(ctx, apply)
			f.logger.Info("updated via API", "id", id)
			return WriteResult{Record: rec}, nil
		}
		f.logger.Warn("update failed, queueing for sync", "id", id, "error", err)
	}

	return f.queue(ctx, resource.VerbUpdate, body, payload, merge), nil
}

// DeleteData removes the record with id.
func (f *Facade) DeleteData(ctx context.Context, id string) (WriteResult, error) {
	if !f.route.Supports(resource.VerbDelete) {
		return WriteResult{}, fmt.Errorf("%w: delete on %s", ErrUnsupportedVerb, f.route.Kind)
	}
	if IsTempID(id) {
		return WriteResult{}, fmt.Errorf("%w: delete %s %s", ErrPendingCreate, f.route.Kind, id)
	}

	payload := resource.Record{"id": id}
	body, err := json.Marshal(payload)
	if err != nil {
		return WriteResult{}, err
	}
	remove := func(data []resource.Record) []resource.Record {
		return resource.RemoveByID(data, id)
	}

	if f.deps.Monitor.IsOnline() {
		req, err := f.route.Request(resource.VerbDelete, body)
		if err != nil {
			return WriteResult{}, err
		}
		_, err = f.deps.API.Send(ctx, req, "")
		if err == nil {
			f.mutateCache(ctx, remove)
			f.logger.Info("deleted via API", "id", id)
			return WriteResult{Record: payload}, nil
		}
		f.logger.Warn("delete failed, queueing for sync", "id", id, "error", err)
	}

	return f.queue(ctx, resource.VerbDelete, body, payload, remove), nil
}

// queue appends the action and applies the optimistic change to the cache
// and the in-memory snapshot.
func (f *Facade) queue(ctx context.Context, verb resource.Verb, body []byte, rec resource.Record, apply func([]resource.Record) []resource.Record, opts ...store.ActionOption) WriteResult {
	id, err := f.deps.Store.StoreOfflineAction(ctx, f.route.Kind, verb, body, opts...)
	if err != nil {
		f.logger.Error("failed to queue offline action", "verb", verb, "error", err)
		f.applyState(apply)
		return WriteResult{Record: rec, Status: StatusNotSaved}
	}

	f.mutateCache(ctx, apply)
	f.deps.Metrics.ObserveQueued(string(f.route.Kind), string(verb))
	f.logger.Info("stored offline, will sync when online", "verb", verb, "action_id", id)
	return WriteResult{Record: rec, Queued: true, ActionID: id, Status: StatusQueued}
}

// mutateCache re-reads the stored collection, applies fn, writes it back
// and refreshes the in-memory snapshot. Concurrent callers are
// last-write-wins.
func (f *Facade) mutateCache(ctx context.Context, fn func([]resource.Record) []resource.Record) {
	coll, ok, err := f.deps.Store.GetCachedData(ctx, f.route.CacheKey)
	if err != nil {
		f.logger.Warn("cache read failed, using in-memory snapshot", "error", err)
	}

	base := coll.Data
	if err != nil || !ok {
		base = f.Data()
	}

	data := fn(base)
	if err := f.deps.Store.CacheData(ctx, f.route.CacheKey, data); err != nil {
		f.logger.Warn("failed to update cache", "error", err)
	}
	f.setData(data)
}

func (f *Facade) applyState(fn func([]resource.Record) []resource.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = fn(f.data)
}
