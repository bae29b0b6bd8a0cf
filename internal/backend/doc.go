// Package backend defines the document database capability the data layer
// runs on.
//
// A Database offers push-based listeners for one document or one query, and
// create/set/update/delete writes that fail with coded errors. Two
// implementations exist: firestoredb (Cloud Firestore snapshot listeners) and
// localdb (SQLite with in-process change notification).
//
// # Listener contract
//
//   - A sink receives pushes sequentially, in transport order, from a single
//     goroutine per listener.
//   - A push carrying a non-nil error is terminal: the listener delivers
//     nothing afterwards.
//   - Stop is idempotent. A push already in flight may still reach the sink
//     after Stop returns; consumers must guard against late pushes.
package backend
