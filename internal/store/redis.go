package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diptrack/diptrack/internal/resource"
)

const (
	defaultKeyPrefix = "diptrack"

	// maxTxRetries bounds optimistic WATCH retries under contention.
	maxTxRetries = 5
)

// Redis keeps the action log and cache in a shared Redis instance, for
// kiosks on the same line that hand work to each other.
//
// Layout (prefix defaults to "diptrack"):
//
//	<prefix>:actions      HASH  id -> action JSON
//	<prefix>:actions:seq  STRING insertion counter
//	<prefix>:cache        HASH  key -> collection JSON
type Redis struct {
	client *redis.Client
	opts   options
	prefix string
}

var _ Store = (*Redis)(nil)

// RedisOption configures the Redis backend beyond the shared options.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key the backend touches.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// OpenRedis connects to the Redis instance at url and verifies it with PING.
func OpenRedis(ctx context.Context, url string, opts ...Option) (*Redis, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, unavailable("open redis", err)
	}
	return NewRedis(ctx, redis.NewClient(parsed), nil, opts...)
}

// NewRedis wraps an existing client. The client is closed by Close.
func NewRedis(ctx context.Context, client *redis.Client, ropts []RedisOption, opts ...Option) (*Redis, error) {
	r := &Redis{client: client, opts: applyOptions(opts), prefix: defaultKeyPrefix}
	for _, opt := range ropts {
		opt(r)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, unavailable("ping redis", err)
	}
	return r, nil
}

func (r *Redis) actionsKey() string { return r.prefix + ":actions" }
func (r *Redis) seqKey() string     { return r.prefix + ":actions:seq" }
func (r *Redis) cacheKey() string   { return r.prefix + ":cache" }

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) StoreOfflineAction(ctx context.Context, kind resource.Kind, verb resource.Verb, payload json.RawMessage, opts ...ActionOption) (string, error) {
	a, err := r.opts.newAction(kind, verb, payload, opts)
	if err != nil {
		return "", err
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("store offline action: %w", err)
	}
	a.Seq = seq

	body, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("store offline action: %w", err)
	}

	added, err := r.client.HSetNX(ctx, r.actionsKey(), a.ID, body).Result()
	if err != nil {
		return "", fmt.Errorf("store offline action: %w", err)
	}
	if !added {
		return "", fmt.Errorf("store offline action: duplicate id %q", a.ID)
	}
	return a.ID, nil
}

func (r *Redis) CacheData(ctx context.Context, key string, data []resource.Record) error {
	if data == nil {
		data = []resource.Record{}
	}
	body, err := json.Marshal(Collection{Key: key, Data: data, CachedAt: r.opts.now().UTC()})
	if err != nil {
		return fmt.Errorf("cache data: %w", err)
	}
	if err := r.client.HSet(ctx, r.cacheKey(), key, body).Err(); err != nil {
		return fmt.Errorf("cache data: %w", err)
	}
	return nil
}

func (r *Redis) GetCachedData(ctx context.Context, key string) (Collection, bool, error) {
	body, err := r.client.HGet(ctx, r.cacheKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, fmt.Errorf("get cached data: %w", err)
	}

	var c Collection
	if err := json.Unmarshal(body, &c); err != nil {
		return Collection{}, false, fmt.Errorf("get cached data: %w", err)
	}
	if c.Data == nil {
		c.Data = []resource.Record{}
	}
	return c, true, nil
}

func (r *Redis) GetUnsyncedActions(ctx context.Context) ([]Action, error) {
	return r.filter(ctx, func(a Action) bool { return !a.Synced })
}

func (r *Redis) DeadLetters(ctx context.Context) ([]Action, error) {
	return r.filter(ctx, func(a Action) bool { return !a.Synced && a.DeadLettered })
}

func (r *Redis) filter(ctx context.Context, keep func(Action) bool) ([]Action, error) {
	all, err := r.client.HGetAll(ctx, r.actionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}

	out := []Action{}
	for id, body := range all {
		var a Action
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("decode action %q: %w", id, err)
		}
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// update applies fn to one action under WATCH. fn returns false to skip the write.
func (r *Redis) update(ctx context.Context, id string, fn func(*Action) bool) (found bool, err error) {
	key := r.actionsKey()

	txf := func(tx *redis.Tx) error {
		body, err := tx.HGet(ctx, key, id).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		var a Action
		if err := json.Unmarshal(body, &a); err != nil {
			return fmt.Errorf("decode action %q: %w", id, err)
		}
		if !fn(&a) {
			return nil
		}
		next, err := json.Marshal(a)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, next)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return found, err
		}
	}
	return found, err
}

func (r *Redis) MarkAsSynced(ctx context.Context, id string) error {
	_, err := r.update(ctx, id, func(a *Action) bool {
		if a.Synced {
			return false
		}
		a.Synced = true
		return true
	})
	if err != nil {
		return fmt.Errorf("mark as synced: %w", err)
	}
	return nil
}

func (r *Redis) RecordFailure(ctx context.Context, id string, f Failure) error {
	_, err := r.update(ctx, id, func(a *Action) bool {
		if a.Synced {
			return false
		}
		a.Attempts = f.Attempts
		a.NextAttemptAt = f.NextAttemptAt
		a.LastError = f.LastError
		a.DeadLettered = f.DeadLetter
		return true
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (r *Redis) Requeue(ctx context.Context, id string) error {
	var eligible bool
	found, err := r.update(ctx, id, func(a *Action) bool {
		if a.Synced {
			return false
		}
		eligible = true
		a.Attempts = 0
		a.NextAttemptAt = time.Time{}
		a.LastError = ""
		a.DeadLettered = false
		return true
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if !found || !eligible {
		return fmt.Errorf("requeue %q: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Redis) ClearSyncedActions(ctx context.Context) (int64, error) {
	key := r.actionsKey()
	var removed int64

	txf := func(tx *redis.Tx) error {
		all, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		var ids []string
		for id, body := range all {
			var a Action
			if err := json.Unmarshal([]byte(body), &a); err != nil {
				return fmt.Errorf("decode action %q: %w", id, err)
			}
			if a.Synced {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			removed = 0
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, ids...)
			return nil
		})
		if err == nil {
			removed = int64(len(ids))
		}
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("clear synced actions: %w", err)
	}
	return removed, nil
}

func (r *Redis) InvalidateCache(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.cacheKey(), key).Err(); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

func (r *Redis) ClearCache(ctx context.Context) error {
	if err := r.client.Del(ctx, r.cacheKey()).Err(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
