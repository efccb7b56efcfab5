package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Call is one request received by a StubAPI.
type Call struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// Response is a canned reply.
type Response struct {
	Status int
	Body   string
}

// StubAPI is an httptest server standing in for the DipTrack REST API.
//
// Replies are looked up by "METHOD /path". One-shot replies queued with
// RespondOnce win over sticky ones set with Respond. HEAD /api/health
// answers 200 unless overridden. Everything else is a 404.
// While down, every connection is dropped without a response.
type StubAPI struct {
	server *httptest.Server

	mu     sync.Mutex
	sticky map[string]Response
	once   map[string][]Response
	calls  []Call
	down   bool
}

// NewStubAPI starts a stub server that is closed when the test ends.
func NewStubAPI(t testing.TB) *StubAPI {
	t.Helper()
	s := &StubAPI{
		sticky: map[string]Response{
			"HEAD /api/health": {Status: http.StatusOK},
		},
		once: make(map[string][]Response),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Close shuts the server down.
func (s *StubAPI) Close() {
	s.server.Close()
}

// URL is the server's base URL.
func (s *StubAPI) URL() string {
	return s.server.URL
}

// Respond sets the reply for every request to method and path.
func (s *StubAPI) Respond(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[method+" "+path] = Response{Status: status, Body: body}
}

// RespondOnce queues a reply consumed by the next matching request.
func (s *StubAPI) RespondOnce(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.once[key] = append(s.once[key], Response{Status: status, Body: body})
}

// SetDown makes the server drop connections (true) or answer again (false).
func (s *StubAPI) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Calls returns the requests received so far, health probes excluded.
func (s *StubAPI) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if c.Method == http.MethodHead {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Probes returns how many health probes were received.
func (s *StubAPI) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == http.MethodHead {
			n++
		}
	}
	return n
}

// CallCount returns len(Calls()).
func (s *StubAPI) CallCount() int {
	return len(s.Calls())
}

// ResetCalls forgets recorded requests.
func (s *StubAPI) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *StubAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls = append(s.calls, Call{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   body,
		Header: r.Header.Clone(),
	})
	down := s.down
	key := r.Method + " " + r.URL.Path
	resp, ok := s.next(key)
	s.mu.Unlock()

	if down {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if !ok {
		resp = Response{Status: http.StatusNotFound, Body: `{"error":"not found"}`}
	}
	if resp.Body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// next must be called with mu held.
func (s *StubAPI) next(key string) (Response, bool) {
	if queue := s.once[key]; len(queue) > 0 {
		s.once[key] = queue[1:]
		return queue[0], true
	}
	resp, ok := s.sticky[key]
	return resp, ok
}
