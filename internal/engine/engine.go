package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/diptrack/diptrack/internal/metrics"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

const (
	// DefaultRetryInterval is the period of the retry ticker.
	DefaultRetryInterval = 60 * time.Second

	// DefaultRequestTimeout bounds each replayed API call.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultMaxAttempts is how many recoverable failures an action gets
	// before it is dead-lettered.
	DefaultMaxAttempts = 10

	// DefaultBackoffInitial is the delay after the first recoverable failure.
	DefaultBackoffInitial = 5 * time.Second

	// DefaultBackoffMax caps the delay between attempts.
	DefaultBackoffMax = 30 * time.Minute

	// DefaultBackoffJitter is the randomization factor applied to each delay.
	DefaultBackoffJitter = 0.5

	tracerName = "github.com/diptrack/diptrack/internal/engine"
)

// Dispatcher sends resolved requests to the remote API.
// Implemented by *api.Client.
type Dispatcher interface {
	Send(ctx context.Context, req resource.Request, idempotencyKey string) ([]byte, error)
}

// Monitor is the connectivity belief the coordinator follows.
// Implemented by *network.Monitor.
type Monitor interface {
	IsOnline() bool
	AddListener(fn network.Listener) (unsubscribe func())
}

// Engine is the sync coordinator.
//
// Thread-safety model:
//   - SyncOfflineData, ForceSync, GetSyncStatus: safe from any goroutine
//   - Start: launches one run loop; later calls are no-ops
//   - Close: stops the run loop and waits for it
type Engine struct {
	store    store.Store
	api      Dispatcher
	monitor  Monitor
	logger   *slog.Logger
	now      func() time.Time
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	limiter  *rate.Limiter
	schedule backoffSchedule

	retryInterval  time.Duration
	requestTimeout time.Duration
	maxAttempts    int

	syncing atomic.Bool

	mu         sync.Mutex
	lastSync   *time.Time
	lastReport *Report

	queue       *triggerQueue
	runMu       sync.Mutex
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the wall clock used for backoff and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches a Prometheus recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithTracer replaces the tracer obtained from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithRetryInterval sets the retry ticker period.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.retryInterval = d }
}

// WithRequestTimeout bounds each replayed API call.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.requestTimeout = d }
}

// WithMaxAttempts sets how many recoverable failures dead-letter an action.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithBackoff configures the retry schedule for recoverable failures.
// jitter is the randomization factor in [0, 1); zero makes delays exact.
func WithBackoff(initial, max time.Duration, jitter float64) Option {
	return func(e *Engine) {
		e.schedule = backoffSchedule{initial: initial, max: max, jitter: jitter}
	}
}

// WithReplayRate paces API calls within a pass. A zero limit disables pacing.
func WithReplayRate(limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		if limit <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// New creates a coordinator over the given store, API and monitor.
func New(s store.Store, d Dispatcher, m Monitor, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		api:            d,
		monitor:        m,
		logger:         slog.Default(),
		now:            time.Now,
		tracer:         otel.Tracer(tracerName),
		retryInterval:  DefaultRetryInterval,
		requestTimeout: DefaultRequestTimeout,
		maxAttempts:    DefaultMaxAttempts,
		schedule: backoffSchedule{
			initial: DefaultBackoffInitial,
			max:     DefaultBackoffMax,
			jitter:  DefaultBackoffJitter,
		},
		queue: newTriggerQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start subscribes to connectivity changes and launches the run loop.
// A pass is requested immediately when the device is online, on every
// transition to online, and on every retry tick while online.
// Returns false if the loop was already started or the engine is closed.
func (e *Engine) Start(ctx context.Context) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.started {
		return false
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	e.unsubscribe = e.monitor.AddListener(func(online bool) {
		if online {
			e.Kick(TriggerOnline)
		}
	})

	if e.monitor.IsOnline() {
		e.Kick(TriggerStartup)
	}

	go e.run(ctx, e.done)

	e.logger.Info("sync coordinator started",
		"retry_interval", e.retryInterval,
		"max_attempts", e.maxAttempts,
	)
	return true
}

// Kick requests a pass from the run loop. Safe from any goroutine; a no-op
// after Close.
func (e *Engine) Kick(t Trigger) {
	e.queue.Enqueue(t)
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync coordinator stopping: context cancelled")
			return

		case _, ok := <-e.queue.Wait():
			if !ok {
				e.logger.Info("sync coordinator stopping: closed")
				return
			}
			triggers := e.queue.Drain()
			if len(triggers) == 0 {
				continue
			}
			e.runTriggered(ctx, preferredTrigger(triggers), triggers)

		case <-ticker.C:
			e.runTriggered(ctx, TriggerTimer, nil)
		}
	}
}

func (e *Engine) runTriggered(ctx context.Context, t Trigger, all []Trigger) {
	if !e.monitor.IsOnline() {
		e.logger.Debug("sync trigger ignored while offline", "trigger", t)
		return
	}
	if len(all) > 1 {
		e.logger.Debug("sync triggers coalesced", "triggers", all)
	}
	e.syncWithTrigger(ctx, t)
}

// Close unsubscribes from the monitor, stops the run loop and waits for an
// in-flight pass to return. Safe to call more than once.
func (e *Engine) Close() {
	e.runMu.Lock()
	cancel, done, unsubscribe := e.cancel, e.done, e.unsubscribe
	e.cancel, e.unsubscribe = nil, nil
	e.started = true
	e.runMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.queue.Close()
	if cancel != nil {
		cancel()
		<-done
	}
}

// ForceSync runs a pass now. It returns ErrOffline, without touching the
// network, when the monitor reports offline.
func (e *Engine) ForceSync(ctx context.Context) (Report, error) {
	if !e.monitor.IsOnline() {
		return Report{}, ErrOffline
	}
	return e.syncWithTrigger(ctx, TriggerManual), nil
}

// GetSyncStatus reports queue depth, last completed pass and connectivity.
func (e *Engine) GetSyncStatus(ctx context.Context) (Status, error) {
	actions, err := e.store.GetUnsyncedActions(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Syncing: e.syncing.Load(),
		Online:  e.monitor.IsOnline(),
	}
	for _, a := range actions {
		if a.DeadLettered {
			st.DeadLettered++
		} else {
			st.PendingActions++
		}
	}

	e.mu.Lock()
	if e.lastSync != nil {
		t := *e.lastSync
		st.LastSync = &t
	}
	if e.lastReport != nil {
		r := *e.lastReport
		st.LastReport = &r
	}
	e.mu.Unlock()

	e.metrics.SetQueueDepth(st.PendingActions, st.DeadLettered)
	return st, nil
}

// DeadLetters lists actions excluded from replay, oldest first.
func (e *Engine) DeadLetters(ctx context.Context) ([]store.Action, error) {
	actions, err := e.store.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	sortActions(actions)
	return actions, nil
}

// Requeue resets a dead letter so the next pass replays it, and requests
// that pass.
func (e *Engine) Requeue(ctx context.Context, id string) error {
	if err := e.store.Requeue(ctx, id); err != nil {
		return err
	}
	e.logger.Info("action requeued", "action_id", id)
	e.Kick(TriggerManual)
	return nil
}
