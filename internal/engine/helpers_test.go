package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
	"github.com/diptrack/diptrack/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

// fakeDispatcher records requests and answers through a replaceable handler.
type fakeDispatcher struct {
	mu      sync.Mutex
	handler func(ctx context.Context, req resource.Request) ([]byte, error)
	sent    []sentRequest
}

type sentRequest struct {
	resource.Request
	Key string
}

func (d *fakeDispatcher) Send(ctx context.Context, req resource.Request, key string) ([]byte, error) {
	d.mu.Lock()
	d.sent = append(d.sent, sentRequest{Request: req, Key: key})
	h := d.handler
	d.mu.Unlock()

	if h == nil {
		return []byte(`{}`), nil
	}
	return h(ctx, req)
}

func (d *fakeDispatcher) handle(h func(ctx context.Context, req resource.Request) ([]byte, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *fakeDispatcher) requests() []sentRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentRequest(nil), d.sent...)
}

// failPaths answers with status for the listed "METHOD /path" keys and 200 otherwise.
func failPaths(status int, keys ...string) func(context.Context, resource.Request) ([]byte, error) {
	return func(_ context.Context, req resource.Request) ([]byte, error) {
		for _, k := range keys {
			if k == req.Method+" "+req.Path {
				return nil, &api.ServerError{Status: status, Message: http.StatusText(status)}
			}
		}
		return []byte(`{}`), nil
	}
}

type fixture struct {
	engine  *Engine
	store   *store.Memory
	api     *fakeDispatcher
	monitor *network.Monitor
	clock   *testutil.FakeClock
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewSteppingClock(epoch, time.Millisecond)
	f := &fixture{
		store:   store.NewMemory(store.WithClock(clock.Now)),
		api:     &fakeDispatcher{},
		monitor: network.NewMonitor(online, nil),
		clock:   clock,
	}

	base := []Option{
		WithClock(clock.Peek),
		WithBackoff(DefaultBackoffInitial, DefaultBackoffMax, 0),
	}
	f.engine = New(f.store, f.api, f.monitor, append(base, opts...)...)
	t.Cleanup(f.engine.Close)
	return f
}

func (f *fixture) enqueue(t *testing.T, kind resource.Kind, verb resource.Verb, payload string, opts ...store.ActionOption) string {
	t.Helper()
	id, err := f.store.StoreOfflineAction(context.Background(), kind, verb, json.RawMessage(payload), opts...)
	require.NoError(t, err)
	return id
}

func (f *fixture) unsynced(t *testing.T) []store.Action {
	t.Helper()
	actions, err := f.store.GetUnsyncedActions(context.Background())
	require.NoError(t, err)
	return actions
}
