// Package connection owns the process-wide database connection.
//
// A Provider initializes its Connection at most once, on first use, by
// trying its strategies in order: ambient Firebase configuration first,
// then the explicit configuration from the config file. Every later Get
// returns the same Connection, or the same *InitError when every strategy
// failed.
package connection
