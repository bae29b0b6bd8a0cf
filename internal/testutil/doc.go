// Package testutil provides test doubles shared by package tests: an
// in-memory backend.Database whose pushes and failures are driven by the
// test, and deterministic ID sources.
package testutil
