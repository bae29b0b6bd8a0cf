// Package localdb implements backend.Database on SQLite.
//
// Documents live in one table keyed by path, with their fields stored as a
// JSON object. Queries are compiled by querysql. Listeners are served in
// process: every committed write re-evaluates the listeners on the written
// document and its collection, and pushes a new snapshot when the result
// changed.
//
// Access is checked against Rules, patterned after security rules: a
// request is allowed only when a rule matching its path grants the
// operation. With no rules configured everything is allowed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
package localdb
