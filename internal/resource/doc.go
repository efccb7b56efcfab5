// Package resource describes the DipTrack entities that can be edited offline.
//
// Each resource kind has a Route: the REST endpoint it lives at, the cache slot
// its list is stored under, and the verbs the server accepts for it. The same
// table drives both the facade's live requests and the coordinator's replay of
// queued actions, so a kind that is routable online is routable on replay.
//
// Payloads are opaque JSON objects (Record). Before a payload is queued it is
// checked against the kind's CUE schema (schema.cue) so that an action the
// server can never accept is rejected at the call site instead of sitting in
// the queue.
package resource
