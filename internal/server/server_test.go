package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/metrics"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
	"github.com/diptrack/diptrack/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCoordinator struct {
	report   engine.Report
	syncErr  error
	status   engine.Status
	dead     []store.Action
	deadErr  error
	requeued []string
	reqErr   error
}

func (f *fakeCoordinator) ForceSync(context.Context) (engine.Report, error) {
	return f.report, f.syncErr
}

func (f *fakeCoordinator) GetSyncStatus(context.Context) (engine.Status, error) {
	return f.status, nil
}

func (f *fakeCoordinator) DeadLetters(context.Context) ([]store.Action, error) {
	return f.dead, f.deadErr
}

func (f *fakeCoordinator) Requeue(_ context.Context, id string) error {
	if f.reqErr != nil {
		return f.reqErr
	}
	f.requeued = append(f.requeued, id)
	return nil
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(&fakeCoordinator{})

	rec := do(t, s.Handler(), http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	last := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	s := New(&fakeCoordinator{status: engine.Status{PendingActions: 2, DeadLettered: 1, Online: true, LastSync: &last}})

	rec := do(t, s.Handler(), http.MethodGet, "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var got engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.PendingActions)
	assert.Equal(t, 1, got.DeadLettered)
	assert.True(t, got.Online)
	require.NotNil(t, got.LastSync)
	assert.True(t, last.Equal(*got.LastSync))
}

func TestSync(t *testing.T) {
	tests := []struct {
		name     string
		coord    *fakeCoordinator
		wantCode int
		wantBody string
	}{
		{"report", &fakeCoordinator{report: engine.Report{Synced: 3, Attempted: 3}}, http.StatusOK, `"synced":3`},
		{"offline", &fakeCoordinator{syncErr: engine.ErrOffline}, http.StatusConflict, `"error":"offline"`},
		{"failure", &fakeCoordinator{syncErr: errors.New("boom")}, http.StatusInternalServerError, `"sync_failed"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, New(tt.coord).Handler(), http.MethodPost, "/sync")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestSync_MethodNotAllowed(t *testing.T) {
	rec := do(t, New(&fakeCoordinator{}).Handler(), http.MethodGet, "/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDeadLetters(t *testing.T) {
	coord := &fakeCoordinator{dead: []store.Action{{ID: "a1", Kind: resource.Batches, Verb: resource.VerbCreate, DeadLettered: true, Attempts: 10}}}

	rec := do(t, New(coord).Handler(), http.MethodGet, "/deadletters")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []store.Action
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.True(t, got[0].DeadLettered)
}

func TestDeadLetters_EmptyIsArray(t *testing.T) {
	rec := do(t, New(&fakeCoordinator{}).Handler(), http.MethodGet, "/deadletters")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRequeue(t *testing.T) {
	coord := &fakeCoordinator{}

	rec := do(t, New(coord).Handler(), http.MethodPost, "/deadletters/a1/requeue")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, coord.requeued)
}

func TestRequeue_NotFound(t *testing.T) {
	coord := &fakeCoordinator{reqErr: store.ErrNotFound}

	rec := do(t, New(coord).Handler(), http.MethodPost, "/deadletters/missing/requeue")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")
}

func TestMetrics(t *testing.T) {
	rec := metrics.New()
	rec.SetQueueDepth(4, 1)

	resp := do(t, New(&fakeCoordinator{}, WithMetrics(rec)).Handler(), http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "diptrack_sync_pending_actions 4")
}

func TestMetrics_Disabled(t *testing.T) {
	resp := do(t, New(&fakeCoordinator{}).Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSync_WithEngine(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	stub.Respond(http.MethodPost, "/api/gloves", http.StatusCreated, `{"id":"g1"}`)

	s := store.NewMemory()
	_, err := s.StoreOfflineAction(context.Background(), resource.Gloves, resource.VerbCreate, json.RawMessage(`{}`))
	require.NoError(t, err)

	monitor := network.NewMonitor(false, nil)
	e := engine.New(s, api.NewClient(stub.URL()), monitor)
	t.Cleanup(e.Close)
	h := New(e).Handler()

	rec := do(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, stub.CallCount())

	monitor.SetPlatformOnline(true)
	rec = do(t, h, http.MethodPost, "/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var report engine.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Synced)

	rec = do(t, h, http.MethodGet, "/status")
	assert.Contains(t, rec.Body.String(), `"pending_actions":0`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&fakeCoordinator{}).Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
}
