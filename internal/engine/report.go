package engine

import (
	"time"

	"github.com/diptrack/diptrack/internal/resource"
)

// Outcome classifies one dispatch attempt.
type Outcome string

const (
	OutcomeSynced      Outcome = "synced"
	OutcomeRecoverable Outcome = "recoverable"
	OutcomeFatal       Outcome = "fatal"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDeferred    Outcome = "deferred"
)

// ActionResult is the outcome of one action within a pass.
type ActionResult struct {
	ActionID      string        `json:"action_id"`
	Kind          resource.Kind `json:"kind"`
	Verb          resource.Verb `json:"verb"`
	Outcome       Outcome       `json:"outcome"`
	Attempts      int           `json:"attempts"`
	StatusCode    int           `json:"status_code,omitempty"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	DeadLettered  bool          `json:"dead_lettered,omitempty"`
	Error         string        `json:"error,omitempty"`

	// Err is the typed cause behind Error.
	Err error `json:"-"`
}

// Report summarizes a sync pass.
type Report struct {
	Dropped     bool           `json:"dropped,omitempty"`
	Trigger     Trigger        `json:"trigger,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
	Duration    time.Duration  `json:"duration_ns"`
	Attempted   int            `json:"attempted"`
	Synced      int            `json:"synced"`
	Recoverable int            `json:"recoverable"`
	Fatal       int            `json:"fatal"`
	Skipped     int            `json:"skipped"`
	Deferred    int            `json:"deferred"`
	DeadLetters int            `json:"dead_lettered"`
	Pruned      int64          `json:"pruned"`
	Results     []ActionResult `json:"results"`
	Error       string         `json:"error,omitempty"`
}

func (r *Report) add(res ActionResult) {
	r.Results = append(r.Results, res)

	switch res.Outcome {
	case OutcomeSynced:
		r.Synced++
	case OutcomeRecoverable:
		r.Recoverable++
	case OutcomeFatal:
		r.Fatal++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeDeferred:
		r.Deferred++
	}
	if res.Outcome != OutcomeDeferred && res.Outcome != OutcomeSkipped {
		r.Attempted++
	}
	if res.DeadLettered {
		r.DeadLetters++
	}
}

// Failed returns the number of actions that were sent and did not sync.
func (r Report) Failed() int {
	return r.Recoverable + r.Fatal
}

// Status is the coordinator's externally visible state.
type Status struct {
	PendingActions int        `json:"pending_actions"`
	DeadLettered   int        `json:"dead_lettered"`
	LastSync       *time.Time `json:"last_sync"`
	Syncing        bool       `json:"syncing"`
	Online         bool       `json:"online"`
	LastReport     *Report    `json:"last_report,omitempty"`
}
