// Package mutation issues database writes without blocking the caller.
//
// Write and its helpers enqueue a Request and return at once. A fixed pool
// of workers executes requests against the database. Nothing is reported
// back to the caller: a failed write becomes an *emitter.PermissionError,
// posted to the dispatch loop and broadcast through the emitter from there.
package mutation
