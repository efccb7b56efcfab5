package harness

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/resource"
)

func newScriptedClient(s *scriptedAPI) *api.Client {
	return api.NewClient(scriptedBaseURL,
		api.WithHTTPClient(&http.Client{Transport: s}),
		api.WithTimeout(time.Second),
	)
}

func TestScriptedAPI_Replies(t *testing.T) {
	s := newScriptedAPI()
	s.respond("post", "/api/gloves", http.StatusCreated, `{"id":"g9"}`)
	s.respondOnce(http.MethodPost, "/api/gloves", http.StatusServiceUnavailable, "")
	c := newScriptedClient(s)
	ctx := context.Background()
	req := resource.Request{Method: http.MethodPost, Path: "/api/gloves", Body: []byte(`{}`)}

	_, err := c.Send(ctx, req, "k1")
	var se *api.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)

	body, err := c.Send(ctx, req, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"g9"}`, string(body))

	_, err = c.List(ctx, "/api/batches")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)

	require.NoError(t, c.Health(ctx))

	assert.Equal(t, []string{"POST /api/gloves", "POST /api/gloves", "GET /api/batches"}, s.Calls())
}

func TestScriptedAPI_DownIsANetworkError(t *testing.T) {
	s := newScriptedAPI()
	s.respond(http.MethodGet, "/api/batches", http.StatusOK, `[]`)
	c := newScriptedClient(s)

	s.setDown(true)
	_, err := c.List(context.Background(), "/api/batches")
	assert.True(t, api.IsNetworkError(err))
	assert.True(t, api.Retryable(err))
	assert.ErrorIs(t, err, errConnRefused)
	assert.Error(t, c.Health(context.Background()))

	s.setDown(false)
	_, err = c.List(context.Background(), "/api/batches")
	assert.NoError(t, err)
	assert.Len(t, s.Calls(), 2)
}

func TestScriptedAPI_CancelledContext(t *testing.T) {
	c := newScriptedClient(newScriptedAPI())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.List(ctx, "/api/batches")
	assert.True(t, api.IsNetworkError(err))
}

func TestScenarioClock(t *testing.T) {
	c := newScenarioClock(Epoch, time.Millisecond)

	assert.Equal(t, Epoch, c.now())
	assert.Equal(t, Epoch.Add(time.Millisecond), c.peek())
	c.advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute+time.Millisecond), c.now())
}
