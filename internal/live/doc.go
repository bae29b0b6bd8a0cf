// Package live holds the reactive subscription primitives.
//
// A Subscription mirrors one document, or the result set of one collection
// query, into an immutable State. Listener pushes arrive on backend
// goroutines and are applied on the dispatch loop, so state only changes
// between loop steps.
//
// Subscriptions belong to a Scope. Inside one Scope every distinct target
// has at most one backend listener; subscriptions that share a target share
// it, and the listener is stopped when the last of them is released. Closing
// the Scope, or cancelling the context it was created with, releases every
// subscription it still holds.
package live
