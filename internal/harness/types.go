package harness

import "github.com/diptrack/diptrack/internal/resource"

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string      `json:"scenario"`
	Pass     bool        `json:"pass"`
	Steps    []StepTrace `json:"steps"`
	Final    FinalState  `json:"final"`

	// Calls are the API requests in arrival order, as "METHOD /path".
	Calls []string `json:"calls"`

	Errors []string `json:"errors,omitempty"`
}

// StepTrace records what one step did.
type StepTrace struct {
	Index    int    `json:"index"`
	Op       string `json:"op"`
	Kind     string `json:"kind,omitempty"`
	Source   string `json:"source,omitempty"`
	Status   string `json:"status,omitempty"`
	Online   bool   `json:"online"`
	Queued   bool   `json:"queued,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Records  *int   `json:"records,omitempty"`

	Pass *PassSummary `json:"pass,omitempty"`

	Error string `json:"error,omitempty"`
}

// PassSummary is the timing-free part of an engine.Report.
type PassSummary struct {
	Attempted   int      `json:"attempted"`
	Synced      int      `json:"synced"`
	Recoverable int      `json:"recoverable"`
	Fatal       int      `json:"fatal"`
	Skipped     int      `json:"skipped"`
	Deferred    int      `json:"deferred"`
	DeadLetters int      `json:"dead_lettered"`
	Pruned      int64    `json:"pruned"`
	Outcomes    []string `json:"outcomes"`
}

// FinalState is the store after the last step.
type FinalState struct {
	Online       bool                         `json:"online"`
	Pending      int                          `json:"pending"`
	DeadLettered int                          `json:"dead_lettered"`
	Caches       map[string][]resource.Record `json:"caches"`
}

func newResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Steps:    []StepTrace{},
		Calls:    []string{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
