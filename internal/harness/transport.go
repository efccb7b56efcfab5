package harness

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// scriptedBaseURL is the API root the harness client talks to. Requests
// never leave the process; scriptedAPI answers them as a RoundTripper.
const scriptedBaseURL = "http://diptrack.scenario"

// errConnRefused is what a scripted API that is down returns for every
// request. The client reports it as a network error.
var errConnRefused = errors.New("connection refused")

type reply struct {
	status int
	body   string
}

// scriptedAPI is an in-process http.RoundTripper that plays the scenario's
// canned API replies.
//
// Replies are keyed by "METHOD /path". One-shot replies win over sticky
// ones. HEAD /api/health answers 200 unless overridden; anything else
// unscripted is a 404. Health probes are not recorded as calls.
type scriptedAPI struct {
	mu     sync.Mutex
	sticky map[string]reply
	once   map[string][]reply
	calls  []string
	down   bool
}

func newScriptedAPI() *scriptedAPI {
	return &scriptedAPI{
		sticky: map[string]reply{"HEAD /api/health": {status: http.StatusOK}},
		once:   make(map[string][]reply),
	}
}

func (s *scriptedAPI) respond(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[strings.ToUpper(method)+" "+path] = reply{status: status, body: body}
}

func (s *scriptedAPI) respondOnce(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(method) + " " + path
	s.once[key] = append(s.once[key], reply{status: status, body: body})
}

func (s *scriptedAPI) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Calls returns "METHOD /path" for every non-probe request, in order.
func (s *scriptedAPI) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// RoundTrip implements http.RoundTripper.
func (s *scriptedAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	key := req.Method + " " + req.URL.Path

	s.mu.Lock()
	if req.Method != http.MethodHead {
		s.calls = append(s.calls, key)
	}
	if s.down {
		s.mu.Unlock()
		return nil, fmt.Errorf("dial %s: %w", req.URL.Host, errConnRefused)
	}
	r, ok := s.next(key)
	s.mu.Unlock()

	if !ok {
		r = reply{status: http.StatusNotFound, body: `{"error":"not found"}`}
	}

	header := make(http.Header)
	if r.body != "" {
		header.Set("Content-Type", "application/json")
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		StatusCode:    r.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(r.body)),
		ContentLength: int64(len(r.body)),
		Request:       req,
	}, nil
}

// next must be called with mu held.
func (s *scriptedAPI) next(key string) (reply, bool) {
	if queue := s.once[key]; len(queue) > 0 {
		s.once[key] = queue[1:]
		return queue[0], true
	}
	r, ok := s.sticky[key]
	return r, ok
}
