// Package metrics provides lock-free counters for credvault observability.
//
// # Design
//
// Counters are stored in a fixed array of uint64 slots indexed by [MetricID]
// and incremented atomically via [sync/atomic.AddUint64]. The write path is
// allocation-free; [Metrics.Snapshot] copies the slots into a map keyed by
// stable metric names.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Export to external
// systems is the caller's concern and reads Snapshot values.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import credvault or any sibling package.
//   - Expose global metric registries.
package metrics
