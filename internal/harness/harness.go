package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/facade"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

// Option configures a run.
type Option func(*Harness)

// WithLogger routes component logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Harness holds the components wired for one scenario run.
type Harness struct {
	stub    *scriptedAPI
	store   *store.Memory
	monitor *network.Monitor
	engine  *engine.Engine
	clock   *scenarioClock
	deps    facade.Deps
	logger  *slog.Logger

	facades map[resource.Kind]*facade.Facade
	tempSeq atomic.Int64
}

// seqIDs hands out zero-padded sequential action id suffixes.
type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) Generate() string {
	return fmt.Sprintf("%04d", g.n.Add(1))
}

// Run executes a scenario against a fresh in-memory store and stub API.
// A returned error means the scenario could not be set up; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		facades: make(map[resource.Kind]*facade.Facade),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.setup(ctx, s); err != nil {
		h.close()
		return nil, err
	}
	defer h.close()

	result := newResult(s.Name)
	for i, step := range s.Steps {
		trace := h.execute(ctx, i, step)
		result.Steps = append(result.Steps, trace)
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, trace) {
				result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Op, msg))
			}
		}
	}

	final, err := h.finalState(ctx)
	if err != nil {
		return nil, err
	}
	result.Final = final
	result.Calls = append(result.Calls, h.stub.Calls()...)

	for i, a := range s.Assertions {
		if err := evaluate(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	online := true
	if s.Online != nil {
		online = *s.Online
	}

	h.clock = newScenarioClock(Epoch, time.Millisecond)
	h.stub = newScriptedAPI()
	for _, r := range s.API {
		body, err := replyBody(r.Body)
		if err != nil {
			return fmt.Errorf("api %s %s: %w", r.Method, r.Path, err)
		}
		if r.Once {
			h.stub.respondOnce(r.Method, r.Path, r.Status, body)
		} else {
			h.stub.respond(r.Method, r.Path, r.Status, body)
		}
	}

	client := api.NewClient(scriptedBaseURL,
		api.WithHTTPClient(&http.Client{Transport: h.stub}),
		api.WithTimeout(2*time.Second),
	)
	h.store = store.NewMemory(store.WithClock(h.clock.now), store.WithIDGenerator(&seqIDs{}))
	h.monitor = network.NewMonitor(online, nil, network.WithLogger(h.logger))

	engineOpts := []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock.peek),
		engine.WithBackoff(engine.DefaultBackoffInitial, engine.DefaultBackoffMax, 0),
	}
	if s.MaxAttempts > 0 {
		engineOpts = append(engineOpts, engine.WithMaxAttempts(s.MaxAttempts))
	}
	h.engine = engine.New(h.store, client, h.monitor, engineOpts...)

	h.deps = facade.Deps{
		Store:   h.store,
		API:     client,
		Monitor: h.monitor,
		Sync:    h.engine,
	}

	for kind, records := range s.Cache {
		data := make([]resource.Record, 0, len(records))
		for _, rec := range records {
			data = append(data, resource.Record(rec))
		}
		if err := h.store.CacheData(ctx, kind, data); err != nil {
			return fmt.Errorf("seed cache %s: %w", kind, err)
		}
	}
	return nil
}

func (h *Harness) close() {
	if h.engine != nil {
		h.engine.Close()
	}
}

func replyBody(v any) (string, error) {
	switch b := v.(type) {
	case nil:
		return "", nil
	case string:
		return b, nil
	default:
		out, err := json.Marshal(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func (h *Harness) facade(kind string) (*facade.Facade, error) {
	k := resource.Kind(kind)
	if f, ok := h.facades[k]; ok {
		return f, nil
	}
	f, err := facade.ForKind(k, h.deps,
		facade.WithLogger(h.logger),
		facade.WithClock(h.clock.peek),
		facade.WithTempSuffix(func() string { return fmt.Sprintf("%09d", h.tempSeq.Add(1)) }),
	)
	if err != nil {
		return nil, err
	}
	h.facades[k] = f
	return f, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) StepTrace {
	trace := StepTrace{Index: i, Op: step.Op, Kind: step.Kind}
	if err := h.apply(ctx, step, &trace); err != nil {
		trace.Error = err.Error()
	}
	trace.Online = h.monitor.IsOnline()
	return trace
}

func (h *Harness) apply(ctx context.Context, step Step, trace *StepTrace) error {
	switch step.Op {
	case OpCreate, OpUpdate, OpDelete:
		f, err := h.facade(step.Kind)
		if err != nil {
			return err
		}
		data := resource.Record(step.Data)
		if data == nil {
			data = resource.Record{}
		}
		var res facade.WriteResult
		switch step.Op {
		case OpCreate:
			res, err = f.CreateData(ctx, data)
		case OpUpdate:
			res, err = f.UpdateData(ctx, step.ID, data)
		default:
			res, err = f.DeleteData(ctx, step.ID)
		}
		if err != nil {
			return err
		}
		trace.Queued = res.Queued
		trace.Status = res.Status
		trace.ActionID = res.ActionID
		trace.RecordID = res.Record.ID()

	case OpFetch:
		f, err := h.facade(step.Kind)
		if err != nil {
			return err
		}
		res := f.FetchData(ctx)
		n := len(res.Data)
		trace.Source = string(res.Source)
		trace.Status = res.Status
		trace.Records = &n

	case OpSync:
		report, err := h.engine.ForceSync(ctx)
		if err != nil {
			return err
		}
		trace.Pass = summarize(report)
		if report.Error != "" {
			return errors.New(report.Error)
		}

	case OpRetry:
		if !h.monitor.IsOnline() {
			return engine.ErrOffline
		}
		report := h.engine.RetryDue(ctx)
		trace.Pass = summarize(report)
		if report.Error != "" {
			return errors.New(report.Error)
		}

	case OpConnect:
		h.monitor.SetPlatformOnline(true)
	case OpDisconnect:
		h.monitor.SetPlatformOnline(false)
	case OpServerDown:
		h.stub.setDown(true)
	case OpServerUp:
		h.stub.setDown(false)
	case OpAdvance:
		h.clock.advance(step.Duration.Std())

	case OpRequeueDead:
		dead, err := h.engine.DeadLetters(ctx)
		if err != nil {
			return err
		}
		for _, a := range dead {
			if err := h.engine.Requeue(ctx, a.ID); err != nil {
				return err
			}
		}
		n := len(dead)
		trace.Records = &n

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func summarize(r engine.Report) *PassSummary {
	s := &PassSummary{
		Attempted:   r.Attempted,
		Synced:      r.Synced,
		Recoverable: r.Recoverable,
		Fatal:       r.Fatal,
		Skipped:     r.Skipped,
		Deferred:    r.Deferred,
		DeadLetters: r.DeadLetters,
		Pruned:      r.Pruned,
		Outcomes:    make([]string, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		entry := res.ActionID + ": " + string(res.Outcome)
		if res.StatusCode != 0 {
			entry += fmt.Sprintf(" (%d %s)", res.StatusCode, http.StatusText(res.StatusCode))
		}
		s.Outcomes = append(s.Outcomes, entry)
	}
	return s
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	st, err := h.engine.GetSyncStatus(ctx)
	if err != nil {
		return FinalState{}, fmt.Errorf("final status: %w", err)
	}

	caches := make(map[string][]resource.Record)
	for _, route := range resource.Routes() {
		coll, ok, err := h.store.GetCachedData(ctx, route.CacheKey)
		if err != nil {
			return FinalState{}, fmt.Errorf("final cache %s: %w", route.CacheKey, err)
		}
		if ok {
			caches[route.CacheKey] = coll.Data
		}
	}

	return FinalState{
		Online:       st.Online,
		Pending:      st.PendingActions,
		DeadLettered: st.DeadLettered,
		Caches:       caches,
	}, nil
}
