package engine

import (
	"errors"
	"fmt"
)

// ErrOffline is returned by ForceSync when the monitor reports offline.
var ErrOffline = errors.New("cannot sync, device is offline")

// SyncError describes why a single action could not be replayed.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// ActionID identifies the affected action.
	ActionID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes replay failures.
type SyncErrorCode string

const (
	// ErrCodeUnknownKind indicates the action's kind has no route.
	ErrCodeUnknownKind SyncErrorCode = "UNKNOWN_KIND"

	// ErrCodeUnsupportedVerb indicates the route does not accept the verb.
	ErrCodeUnsupportedVerb SyncErrorCode = "UNSUPPORTED_VERB"

	// ErrCodeInvalidAction indicates the action cannot be turned into a request.
	ErrCodeInvalidAction SyncErrorCode = "INVALID_ACTION"

	// ErrCodeDispatchFailed indicates the API call failed.
	ErrCodeDispatchFailed SyncErrorCode = "DISPATCH_FAILED"

	// ErrCodeStoreFailed indicates the store rejected bookkeeping for the action.
	ErrCodeStoreFailed SyncErrorCode = "STORE_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ActionID != "" {
		msg = fmt.Sprintf("%s (action=%s)", msg, e.ActionID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsUnknownKind reports whether err is an unknown-kind SyncError.
func IsUnknownKind(err error) bool {
	return hasCode(err, ErrCodeUnknownKind)
}

// IsUnsupportedVerb reports whether err is an unsupported-verb SyncError.
func IsUnsupportedVerb(err error) bool {
	return hasCode(err, ErrCodeUnsupportedVerb)
}

// IsDispatchError reports whether err is a failed API call.
func IsDispatchError(err error) bool {
	return hasCode(err, ErrCodeDispatchFailed)
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newSyncError(code SyncErrorCode, actionID, message string, err error) *SyncError {
	return &SyncError{
		Code:     code,
		Message:  message,
		ActionID: actionID,
		Err:      err,
	}
}
