// Package harness runs scripted offline-sync scenarios end to end.
//
// A scenario wires a real facade, coordinator and in-memory store to a
// scripted REST API, drives them through a list of steps, and checks the
// outcome. The scripted API is an in-process http.RoundTripper, so a run
// opens no sockets. Everything that could vary between runs is pinned: the
// clock is fake, temp id suffixes and action id suffixes are sequential,
// and sync passes only happen on an explicit sync or retry step.
//
// # Scenario Format
//
//	name: offline_create_replayed
//	description: "A batch created offline is replayed once the line reconnects"
//	online: false
//	cache:
//	  batches:
//	    - { id: b0, productType: nitrile }
//	api:
//	  - { method: POST, path: /api/batches, status: 201, body: { id: b9 } }
//	steps:
//	  - op: create
//	    kind: batches
//	    data: { productType: latex }
//	    expect: { queued: true }
//	  - op: connect
//	  - op: sync
//	    expect: { synced: 1 }
//	assertions:
//	  - { type: pending_count, count: 0 }
//	  - { type: cache_contains, kind: batches, where: { id: b9 } }
//
// # Steps
//
//   - create, update, delete: facade writes (kind, id, data)
//   - fetch: facade read (kind)
//   - sync: one forced replay pass, backoff ignored
//   - retry: one retry-timer pass; actions still backing off are deferred
//   - connect, disconnect: flip the platform connectivity signal
//   - server_down, server_up: drop or restore API connections while staying "online"
//   - advance: move the clock forward (duration)
//   - requeue_dead: revive every dead-lettered action
//
// # Assertion Types
//
//   - pending_count, dead_letter_count: queue depth after the last step
//   - cache_count: number of cached records for kind
//   - cache_contains: some cached record of kind matches where (subset match)
//   - cache_has_no_temp: no cached record of kind still carries a temp id
//   - api_calls: number of requests to method and path
//
// # Golden Reports
//
// RunWithGolden compares the canonical JSON of a Result against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
