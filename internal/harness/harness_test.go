package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithGolden_OfflineGloveCreate(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/offline_glove_create_replayed.yaml")
	require.NoError(t, err)

	result := RunWithGolden(t, s)
	assert.Equal(t, 0, result.Final.Pending)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Expectations that do not hold are reported, not fatal"
online: false
steps:
  - op: create
    kind: gloves
    data: {}
    expect: { queued: false }
  - op: sync
    expect: { synced: 1 }
assertions:
  - { type: pending_count, count: 0 }
  - { type: api_calls, method: post, path: /api/gloves, count: 1 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected queued=false, got true")
	assert.Contains(t, result.Errors[1], "expected synced=1, but no pass ran")
	assert.Contains(t, result.Errors[2], "pending_count: expected 0, got 1")
	assert.Contains(t, result.Errors[3], "api_calls POST /api/gloves: expected 1, got 0")
}

func TestRun_InvalidPayloadIsAStepError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: invalid_payload
description: "A create that fails validation is recorded as a step error"
online: false
steps:
  - op: create
    kind: alerts
    data: { title: "pH drift" }
    expect: { error: "invalid payload" }
assertions:
  - { type: pending_count, count: 0 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.False(t, result.Steps[0].Queued)
}

func TestRun_StepTraceRecordsConnectivity(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: connectivity
description: "Connect and disconnect flip the online flag"
steps:
  - op: disconnect
  - op: connect
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Online)
	assert.True(t, result.Steps[1].Online)
	assert.True(t, result.Final.Online)
	assert.Empty(t, result.Calls)
}
