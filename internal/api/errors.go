package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkError means the request produced no response: DNS, connect,
// reset, or timeout.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network unreachable: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request hit its deadline.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ErrResponseTooLarge is wrapped by a *RequestError when a 2xx body exceeds
// the client's response limit.
var ErrResponseTooLarge = errors.New("response body exceeds limit")

// RequestError means the request could not be built, or its response was
// unusable. The cause is local and deterministic, so it is never retried.
type RequestError struct {
	Method string
	Path   string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ServerError is a non-2xx response.
type ServerError struct {
	Status  int
	Message string
	Details any
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func newServerError(status int, body []byte) *ServerError {
	e := &ServerError{Status: status}

	var payload struct {
		Error   string `json:"error"`
		Details any    `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		e.Message = payload.Error
		e.Details = payload.Details
		return e
	}

	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		e.Message = text
	} else {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsNetworkError reports whether err is a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsServerError reports whether err is a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// Retryable reports whether repeating the request could succeed:
// network failures, 5xx, 408 and 429. Other 4xx responses, request
// construction failures and oversized responses fail the same way every
// time, as does any error this package did not produce.
func Retryable(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return false
	}
	if IsNetworkError(err) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusRequestTimeout || se.Status == http.StatusTooManyRequests
	}
	return false
}
