// Package harness runs YAML scenarios against the data-access runtime and
// records a state trace for golden comparison.
//
// # Scenario Format
//
//	name: pending_requests_denied
//	description: "A permission denial keeps the last result"
//	backend: fake            # fake (default) or local
//	rules:                   # local only; omitted allows everything
//	  - match: consultationRequests/{id}
//	    allow: [read]
//	seed:                    # local only
//	  - path: consultationRequests/r1
//	    data: { status: pending }
//	subscribe:
//	  - name: pending
//	    query:
//	      collection: consultationRequests
//	      where:
//	        - { field: status, op: "==", value: pending }
//	steps:
//	  - push: pending        # fake only
//	    docs:
//	      - { path: consultationRequests/r1, data: { status: pending } }
//	  - push: pending
//	    error: permission-denied
//	assertions:
//	  - type: state
//	    subscription: pending
//	    expect: { loading: false, ids: [r1], error: permission-denied }
//
// # Steps
//
// Every step names exactly one action:
//
//   - push: deliver docs, a missing document, or an error code to a
//     subscription's listener (fake backend)
//   - write: create, set, merge, update, delete or add through the writer
//   - fail_writes: make writes to a path (or "prefix/*") fail with code
//     (fake backend)
//   - retarget: point a subscription at another document or query
//   - close: close a subscription
//   - set_rules: replace the access rules (local backend)
//
// After each step the harness waits for the writer to settle and drains the
// dispatch loop, so the trace is deterministic.
//
// # Assertion Types
//
//   - state: the final state of one subscription
//   - emitted: failures delivered to error handlers
//   - listeners: active listeners held by the scope
//   - stored: a document as stored (local backend)
package harness
