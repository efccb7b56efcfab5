// Package engine implements the DipTrack sync coordinator.
//
// The coordinator drains the offline action log against the remote API.
// Facades append to the log while the device is offline; the coordinator
// replays it once connectivity returns.
//
// ARCHITECTURE:
//
// Single Pass At A Time:
// SyncOfflineData is guarded by an atomic compare-and-swap flag. A call
// that finds a pass already running returns a Report with Dropped=true and
// touches neither the store nor the network. Dropped triggers are not
// queued; the next trigger picks up whatever is left.
//
// Pass Flow:
//  1. Read every unsynced action from the store
//  2. Drop dead letters, sort by (EnqueuedAt, Seq)
//  3. For each action: resolve its route, send it, classify the outcome
//  4. Mark successes synced, record failures with their next attempt time
//  5. Purge synced actions
//
// A failing action never aborts the pass and is never retried within it.
//
// Triggers:
// Start subscribes to the network monitor and runs a retry ticker. Both
// push onto a trigger queue whose size-1 signal channel coalesces bursts,
// so a flapping connection produces at most one pending pass.
//
// Only retry-timer passes (RetryDue) wait out an action's backoff. Online,
// startup and manual passes send every pending action regardless of its
// next attempt time, so a reconnect drains the log at once.
//
// Outcomes:
//
//	synced       2xx from the API; the action is marked synced
//	recoverable  network error, 5xx, 408 or 429; retried after backoff
//	fatal        any other 4xx or an unsupported verb; dead-lettered at once
//	skipped      no route for the kind; left in the log untouched
//	deferred     backoff has not elapsed on a timer pass, or the pass was cancelled
//
// A recoverable action that reaches MaxAttempts is dead-lettered as well.
// Dead letters stay in the log, excluded from replay and from the pending
// count, until Requeue resets them.
package engine
