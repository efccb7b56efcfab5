package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/retry_then_dead_letter.yaml")
	require.NoError(t, err)

	assert.Equal(t, "retry_then_dead_letter", s.Name)
	require.NotNil(t, s.Online)
	assert.False(t, *s.Online)
	assert.Equal(t, 2, s.MaxAttempts)
	require.Len(t, s.API, 3)
	assert.True(t, s.API[0].Once)
	assert.Equal(t, OpAdvance, s.Steps[4].Op)
	assert.Equal(t, 5*time.Second, s.Steps[4].Duration.Std())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: "misspelled key"
step:
  - op: sync
`), 0o600))

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestScenarioValidate(t *testing.T) {
	valid := func() Scenario {
		return Scenario{
			Name:        "s",
			Description: "d",
			Steps:       []Step{{Op: OpSync}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"valid", func(*Scenario) {}, ""},
		{"no name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no steps", func(s *Scenario) { s.Steps = nil }, "steps list is required"},
		{"unknown op", func(s *Scenario) { s.Steps[0].Op = "teleport" }, `steps[0]: unknown op "teleport"`},
		{"empty op", func(s *Scenario) { s.Steps[0].Op = "" }, "op is required"},
		{"create without kind", func(s *Scenario) { s.Steps[0] = Step{Op: OpCreate} }, "kind is required"},
		{"create unknown kind", func(s *Scenario) { s.Steps[0] = Step{Op: OpCreate, Kind: "widgets"} }, "unknown resource kind"},
		{"update without id", func(s *Scenario) { s.Steps[0] = Step{Op: OpUpdate, Kind: "batches"} }, "id is required for update"},
		{"advance without duration", func(s *Scenario) { s.Steps[0] = Step{Op: OpAdvance} }, "positive duration"},
		{"bad cache kind", func(s *Scenario) { s.Cache = map[string][]map[string]any{"widgets": nil} }, "cache:"},
		{"api without path", func(s *Scenario) { s.API = []StubReply{{Method: "GET", Status: 200}} }, "api[0]: method and path are required"},
		{"api bad status", func(s *Scenario) { s.API = []StubReply{{Method: "GET", Path: "/x", Status: 42}} }, "out of range"},
		{"unknown assertion", func(s *Scenario) { s.Assertions = []Assertion{{Type: "vibes"}} }, `unknown assertion type "vibes"`},
		{"cache_contains without where", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertCacheContains, Kind: "batches"}}
		}, "where is required"},
		{"api_calls without path", func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertAPICalls, Method: "GET"}} }, "method and path"},
		{"negative count", func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertPendingCount, Count: -1}} }, "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
