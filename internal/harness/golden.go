package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/diptrack/diptrack/internal/canonical"
)

// RunWithGolden runs the scenario, fails t on any expectation error, and
// compares the canonical JSON result with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), s)
	if err != nil {
		t.Fatalf("run scenario %s: %v", s.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", s.Name, e)
	}

	AssertGolden(t, s.Name, result)
	return result
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	out, err := Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, out)
}

// Marshal renders a result as canonical JSON.
func Marshal(result *Result) ([]byte, error) {
	return canonical.Marshal(result)
}
