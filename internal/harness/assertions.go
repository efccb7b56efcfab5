package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/diptrack/diptrack/internal/canonical"
	"github.com/diptrack/diptrack/internal/facade"
	"github.com/diptrack/diptrack/internal/resource"
)

// checkExpect returns one message per mismatched field.
func checkExpect(e *Expect, t StepTrace) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expected %s=%v, got %v", field, want, got))
	}

	if e.Queued != nil && *e.Queued != t.Queued {
		mismatch("queued", *e.Queued, t.Queued)
	}
	if e.Status != nil && *e.Status != t.Status {
		mismatch("status", fmt.Sprintf("%q", *e.Status), fmt.Sprintf("%q", t.Status))
	}
	if e.Source != "" && e.Source != t.Source {
		mismatch("source", e.Source, t.Source)
	}
	if e.Records != nil {
		got := -1
		if t.Records != nil {
			got = *t.Records
		}
		if got != *e.Records {
			mismatch("records", *e.Records, got)
		}
	}

	counts := []struct {
		field string
		want  *int
		got   func(*PassSummary) int
	}{
		{"synced", e.Synced, func(p *PassSummary) int { return p.Synced }},
		{"recoverable", e.Recoverable, func(p *PassSummary) int { return p.Recoverable }},
		{"fatal", e.Fatal, func(p *PassSummary) int { return p.Fatal }},
		{"skipped", e.Skipped, func(p *PassSummary) int { return p.Skipped }},
		{"deferred", e.Deferred, func(p *PassSummary) int { return p.Deferred }},
	}
	for _, c := range counts {
		if c.want == nil {
			continue
		}
		if t.Pass == nil {
			errs = append(errs, fmt.Sprintf("expected %s=%d, but no pass ran", c.field, *c.want))
			continue
		}
		if got := c.got(t.Pass); got != *c.want {
			mismatch(c.field, *c.want, got)
		}
	}

	switch {
	case e.Error == "":
	case e.Error == "none":
		if t.Error != "" {
			errs = append(errs, fmt.Sprintf("expected no error, got %q", t.Error))
		}
	case !strings.Contains(t.Error, e.Error):
		errs = append(errs, fmt.Sprintf("expected error containing %q, got %q", e.Error, t.Error))
	}
	return errs
}

// evaluate checks one assertion against the finished result.
func evaluate(a Assertion, r *Result) error {
	switch a.Type {
	case AssertPendingCount:
		if r.Final.Pending != a.Count {
			return fmt.Errorf("pending_count: expected %d, got %d", a.Count, r.Final.Pending)
		}
	case AssertDeadLetterCount:
		if r.Final.DeadLettered != a.Count {
			return fmt.Errorf("dead_letter_count: expected %d, got %d", a.Count, r.Final.DeadLettered)
		}
	case AssertCacheCount:
		if got := len(r.Final.Caches[a.Kind]); got != a.Count {
			return fmt.Errorf("cache_count %s: expected %d, got %d", a.Kind, a.Count, got)
		}
	case AssertCacheContains:
		for _, rec := range r.Final.Caches[a.Kind] {
			if matchRecord(rec, a.Where) {
				return nil
			}
		}
		return fmt.Errorf("cache_contains %s: no record matches %s", a.Kind, describe(a.Where))
	case AssertCacheHasNoTemp:
		for _, rec := range r.Final.Caches[a.Kind] {
			if facade.IsTempID(rec.ID()) {
				return fmt.Errorf("cache_has_no_temp %s: found %s", a.Kind, rec.ID())
			}
		}
	case AssertAPICalls:
		want := strings.ToUpper(a.Method) + " " + a.Path
		got := 0
		for _, c := range r.Calls {
			if c == want {
				got++
			}
		}
		if got != a.Count {
			return fmt.Errorf("api_calls %s: expected %d, got %d", want, a.Count, got)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// matchRecord reports whether rec has every key in where with an equal
// value. Values are compared in canonical JSON form so a YAML int matches
// a decoded float64.
func matchRecord(rec resource.Record, where map[string]any) bool {
	for k, want := range where {
		got, ok := rec[k]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, err := canonical.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := canonical.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func describe(where map[string]any) string {
	out, err := canonical.Marshal(where)
	if err != nil {
		return fmt.Sprint(where)
	}
	return string(out)
}
