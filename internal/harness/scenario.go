package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/diptrack/diptrack/internal/config"
	"github.com/diptrack/diptrack/internal/resource"
)

// Scenario is one scripted sync session.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Online is the initial connectivity. Defaults to true.
	Online *bool `yaml:"online,omitempty"`

	// Cache seeds collections by kind before the first step.
	Cache map[string][]map[string]any `yaml:"cache,omitempty"`

	// API lists the canned replies of the stub server.
	API []StubReply `yaml:"api,omitempty"`

	// MaxAttempts overrides the coordinator's dead-letter threshold.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// StubReply is a canned API response. Once replies are consumed in order
// before the sticky reply for the same route.
type StubReply struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status"`
	Body   any    `yaml:"body,omitempty"`
	Once   bool   `yaml:"once,omitempty"`
}

// Step operations.
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpFetch       = "fetch"
	OpSync        = "sync"
	OpRetry       = "retry"
	OpConnect     = "connect"
	OpDisconnect  = "disconnect"
	OpServerDown  = "server_down"
	OpServerUp    = "server_up"
	OpAdvance     = "advance"
	OpRequeueDead = "requeue_dead"
)

// Step is one operation in a scenario.
type Step struct {
	Op       string          `yaml:"op"`
	Kind     string          `yaml:"kind,omitempty"`
	ID       string          `yaml:"id,omitempty"`
	Data     map[string]any  `yaml:"data,omitempty"`
	Duration config.Duration `yaml:"duration,omitempty"`
	Expect   *Expect         `yaml:"expect,omitempty"`
}

// Expect checks a single step's outcome. Unset fields are not checked.
type Expect struct {
	Queued  *bool   `yaml:"queued,omitempty"`
	Status  *string `yaml:"status,omitempty"`
	Source  string  `yaml:"source,omitempty"`
	Records *int    `yaml:"records,omitempty"`

	Synced      *int `yaml:"synced,omitempty"`
	Recoverable *int `yaml:"recoverable,omitempty"`
	Fatal       *int `yaml:"fatal,omitempty"`
	Skipped     *int `yaml:"skipped,omitempty"`
	Deferred    *int `yaml:"deferred,omitempty"`

	// Error is a substring of the step's error. "none" asserts no error.
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertPendingCount    = "pending_count"
	AssertDeadLetterCount = "dead_letter_count"
	AssertCacheCount      = "cache_count"
	AssertCacheContains   = "cache_contains"
	AssertCacheHasNoTemp  = "cache_has_no_temp"
	AssertAPICalls        = "api_calls"
)

// Assertion validates the state left behind by the steps.
type Assertion struct {
	Type   string         `yaml:"type"`
	Kind   string         `yaml:"kind,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Method string         `yaml:"method,omitempty"`
	Path   string         `yaml:"path,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo cannot silently skip a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks required fields and references.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}

	for kind := range s.Cache {
		if _, err := resource.ParseKind(kind); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	for i, r := range s.API {
		if r.Method == "" || r.Path == "" {
			return fmt.Errorf("api[%d]: method and path are required", i)
		}
		if r.Status < 100 || r.Status > 599 {
			return fmt.Errorf("api[%d]: status %d out of range", i, r.Status)
		}
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch st.Op {
	case OpCreate, OpFetch:
		return requireKind(st.Kind)
	case OpUpdate, OpDelete:
		if st.ID == "" {
			return fmt.Errorf("id is required for %s", st.Op)
		}
		return requireKind(st.Kind)
	case OpAdvance:
		if st.Duration <= 0 {
			return errors.New("advance needs a positive duration")
		}
	case OpSync, OpRetry, OpConnect, OpDisconnect, OpServerDown, OpServerUp, OpRequeueDead:
	case "":
		return errors.New("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertPendingCount, AssertDeadLetterCount:
	case AssertCacheCount, AssertCacheHasNoTemp:
		return requireKind(a.Kind)
	case AssertCacheContains:
		if len(a.Where) == 0 {
			return errors.New("where is required for cache_contains")
		}
		return requireKind(a.Kind)
	case AssertAPICalls:
		if a.Method == "" || a.Path == "" {
			return errors.New("method and path are required for api_calls")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Count < 0 {
		return errors.New("count must be non-negative")
	}
	return nil
}

func requireKind(kind string) error {
	if kind == "" {
		return errors.New("kind is required")
	}
	_, err := resource.ParseKind(kind)
	return err
}
