// Package perf hosts opt-in benchmarks for contact ingest and fleet
// queries.
//
// The benchmarks sit behind build tags (`perf`, `perf_large`) so they stay
// out of default test runs; this file keeps the package visible to
// editors and `go list`.
package perf
