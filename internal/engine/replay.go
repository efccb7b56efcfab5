package engine

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

// SyncOfflineData runs one replay pass and returns its report. Every
// pending action is sent, including those still waiting out a backoff.
//
// If a pass is already running the call returns at once with
// Report.Dropped set.
func (e *Engine) SyncOfflineData(ctx context.Context) Report {
	return e.syncWithTrigger(ctx, TriggerManual)
}

// RetryDue runs the pass the retry timer runs: actions whose backoff has
// not elapsed are reported as deferred and left untouched.
func (e *Engine) RetryDue(ctx context.Context) Report {
	return e.syncWithTrigger(ctx, TriggerTimer)
}

func (e *Engine) syncWithTrigger(ctx context.Context, trigger Trigger) Report {
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync already in progress, dropping trigger", "trigger", trigger)
		e.metrics.ObservePass(0, true)
		return Report{Dropped: true, Trigger: trigger}
	}
	defer e.syncing.Store(false)

	ctx, span := e.tracer.Start(ctx, "sync.pass", trace.WithAttributes(
		attribute.String("sync.trigger", string(trigger)),
	))
	defer span.End()

	report := Report{
		Trigger:   trigger,
		StartedAt: e.now().UTC(),
		Results:   []ActionResult{},
	}

	actions, err := e.store.GetUnsyncedActions(ctx)
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = e.now().UTC()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read unsynced actions")
		e.logger.Error("sync pass aborted: cannot read offline actions", "error", err)
		return report
	}

	actions = slices.DeleteFunc(actions, func(a store.Action) bool { return a.DeadLettered })
	sortActions(actions)

	e.logger.Debug("sync pass starting", "trigger", trigger, "actions", len(actions))

	for _, a := range actions {
		res := e.replayAction(ctx, a, trigger.honorsBackoff())
		report.add(res)
		e.metrics.ObserveAction(string(a.Kind), string(res.Outcome))
	}

	pruned, err := e.store.ClearSyncedActions(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Error("failed to clear synced actions", "error", err)
	}
	report.Pruned = pruned

	report.FinishedAt = e.now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	finished := report.FinishedAt
	stored := report
	e.mu.Lock()
	e.lastSync = &finished
	e.lastReport = &stored
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Int("sync.synced", report.Synced),
		attribute.Int("sync.failed", report.Failed()),
		attribute.Int("sync.skipped", report.Skipped),
		attribute.Int("sync.deferred", report.Deferred),
	)
	e.metrics.ObservePass(report.Duration, false)
	if _, err := e.GetSyncStatus(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("failed to refresh queue depth", "error", err)
	}

	e.logger.Info("sync pass complete",
		"trigger", trigger,
		"synced", report.Synced,
		"recoverable", report.Recoverable,
		"fatal", report.Fatal,
		"skipped", report.Skipped,
		"deferred", report.Deferred,
		"dead_lettered", report.DeadLetters,
		"pruned", report.Pruned,
		"duration", report.Duration,
	)
	return report
}

// sortActions orders actions by enqueue time with the store sequence as the
// tie-break. Replay order is global across kinds.
func sortActions(actions []store.Action) {
	slices.SortStableFunc(actions, func(a, b store.Action) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func (e *Engine) replayAction(ctx context.Context, a store.Action, honorBackoff bool) ActionResult {
	res := ActionResult{
		ActionID: a.ID,
		Kind:     a.Kind,
		Verb:     a.Verb,
		Attempts: a.Attempts,
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeDeferred
		return res
	}

	if honorBackoff && !a.Due(e.now()) {
		next := a.NextAttemptAt
		res.Outcome = OutcomeDeferred
		res.NextAttemptAt = &next
		return res
	}

	route, ok := resource.Lookup(a.Kind)
	if !ok {
		res.Outcome = OutcomeSkipped
		res.Err = newSyncError(ErrCodeUnknownKind, a.ID, "no route for kind "+string(a.Kind), resource.ErrUnknownKind)
		res.Error = res.Err.Error()
		e.logger.Warn("skipping action with unknown kind", "action_id", a.ID, "kind", a.Kind)
		return res
	}

	ctx, span := e.tracer.Start(ctx, "sync.action", trace.WithAttributes(
		attribute.String("sync.action_id", a.ID),
		attribute.String("sync.kind", string(a.Kind)),
		attribute.String("sync.verb", string(a.Verb)),
	))
	defer span.End()

	req, err := route.Request(a.Verb, a.Payload)
	if err != nil {
		code := ErrCodeInvalidAction
		if errors.Is(err, resource.ErrUnsupportedVerb) {
			code = ErrCodeUnsupportedVerb
		}
		return e.fail(ctx, span, a, res, newSyncError(code, a.ID, "cannot build request", err), false)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Outcome = OutcomeDeferred
			return res
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	body, err := e.api.Send(callCtx, req, a.ID)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeDeferred
			span.SetAttributes(attribute.String("sync.outcome", string(res.Outcome)))
			return res
		}
		var se *api.ServerError
		if errors.As(err, &se) {
			res.StatusCode = se.Status
		}
		return e.fail(ctx, span, a, res, newSyncError(ErrCodeDispatchFailed, a.ID, req.Method+" "+req.Path, err), api.Retryable(err))
	}

	if err := e.store.MarkAsSynced(context.WithoutCancel(ctx), a.ID); err != nil {
		res.Outcome = OutcomeRecoverable
		res.Err = newSyncError(ErrCodeStoreFailed, a.ID, "mark as synced", err)
		res.Error = res.Err.Error()
		span.RecordError(res.Err)
		e.logger.Error("action sent but not marked synced", "action_id", a.ID, "error", err)
		return res
	}

	res.Outcome = OutcomeSynced
	res.Attempts = a.Attempts + 1
	span.SetAttributes(attribute.String("sync.outcome", string(res.Outcome)))
	e.logger.Debug("action synced", "action_id", a.ID, "kind", a.Kind, "verb", a.Verb)

	if a.Verb == resource.VerbCreate && a.TempID != "" {
		e.reconcileCreate(context.WithoutCancel(ctx), route, a.TempID, body)
	}
	return res
}

// fail records a dispatch failure. Recoverable failures are scheduled with
// backoff until MaxAttempts; everything else is dead-lettered immediately.
func (e *Engine) fail(ctx context.Context, span trace.Span, a store.Action, res ActionResult, cause *SyncError, retryable bool) ActionResult {
	attempts := a.Attempts + 1
	f := store.Failure{
		Attempts:  attempts,
		LastError: cause.Error(),
	}

	res.Attempts = attempts
	res.Err = cause
	res.Error = cause.Error()

	switch {
	case !retryable:
		res.Outcome = OutcomeFatal
		f.DeadLetter = true
	case attempts >= e.maxAttempts:
		res.Outcome = OutcomeRecoverable
		f.DeadLetter = true
	default:
		res.Outcome = OutcomeRecoverable
		next := e.now().Add(e.schedule.delay(attempts)).UTC()
		f.NextAttemptAt = next
		res.NextAttemptAt = &next
	}
	res.DeadLettered = f.DeadLetter

	span.RecordError(cause)
	span.SetStatus(codes.Error, string(cause.Code))
	span.SetAttributes(attribute.String("sync.outcome", string(res.Outcome)))

	if err := e.store.RecordFailure(context.WithoutCancel(ctx), a.ID, f); err != nil {
		e.logger.Error("failed to record sync failure", "action_id", a.ID, "error", err)
	}

	if f.DeadLetter {
		e.logger.Warn("action dead-lettered",
			"action_id", a.ID,
			"kind", a.Kind,
			"verb", a.Verb,
			"attempts", attempts,
			"error", cause,
		)
	} else {
		e.logger.Warn("action sync failed, will retry",
			"action_id", a.ID,
			"kind", a.Kind,
			"verb", a.Verb,
			"attempts", attempts,
			"next_attempt_at", f.NextAttemptAt,
			"error", cause,
		)
	}
	return res
}

// reconcileCreate swaps the optimistic placeholder for the server's record.
// When the placeholder is gone the server record is prepended instead.
func (e *Engine) reconcileCreate(ctx context.Context, route resource.Route, tempID string, body []byte) {
	rec := api.DecodeRecord(body)
	if rec == nil {
		e.logger.Debug("create response carried no record, cache left as is", "temp_id", tempID)
		return
	}

	coll, _, err := e.store.GetCachedData(ctx, route.CacheKey)
	if err != nil {
		e.logger.Warn("cache reconciliation skipped", "key", route.CacheKey, "error", err)
		return
	}

	data, found := resource.ReplaceByID(coll.Data, tempID, rec)
	if !found {
		data = resource.Prepend(coll.Data, rec)
	}
	if err := e.store.CacheData(ctx, route.CacheKey, data); err != nil {
		e.logger.Warn("cache reconciliation failed", "key", route.CacheKey, "error", err)
		return
	}
	e.logger.Debug("placeholder reconciled", "temp_id", tempID, "id", rec.ID(), "replaced", found)
}
