package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a SQLite store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

type backend struct {
	name string
	open func(t *testing.T, opts ...Option) Store
}

// backends lists every implementation the contract tests run against.
// Redis joins the list when DIPTRACK_TEST_REDIS_URL points at a server.
func backends() []backend {
	list := []backend{
		{"memory", func(t *testing.T, opts ...Option) Store { return NewMemory(opts...) }},
		{"sqlite", func(t *testing.T, opts ...Option) Store { return createTestStore(t, opts...) }},
	}
	if url := os.Getenv("DIPTRACK_TEST_REDIS_URL"); url != "" {
		list = append(list, backend{"redis", func(t *testing.T, opts ...Option) Store {
			return createRedisStore(t, url, opts...)
		}})
	}
	return list
}

func createRedisStore(t *testing.T, url string, opts ...Option) *Redis {
	t.Helper()
	parsed, err := redis.ParseURL(url)
	require.NoError(t, err)

	prefix := fmt.Sprintf("diptrack-test:%s:%d", strings.ReplaceAll(t.Name(), "/", ":"), time.Now().UnixNano())
	r, err := NewRedis(context.Background(), redis.NewClient(parsed), []RedisOption{WithKeyPrefix(prefix)}, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		r.client.Del(ctx, r.actionsKey(), r.seqKey(), r.cacheKey())
		r.Close()
	})
	return r
}
