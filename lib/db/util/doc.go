// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - sizes: value size statistics for GetInfo, sampled into a uniform
//     reservoir histogram (github.com/rcrowley/go-metrics) so that reporting
//     on large databases stays cheap in memory
//
// Each component works on a db.IterateFunc, so it can be used by every
// engine on whatever consistent view (clone, snapshot, read transaction) it has.
package util
