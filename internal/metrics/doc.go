// Package metrics is the engine's counter and histogram storage.
//
// Counters live in cache-line-padded uint64 slots incremented through
// [sync/atomic.AddUint64], and the sign-in latency histogram uses 8 fixed
// buckets from 5ms to +Inf. Recording allocates nothing, so flows call
// into this package unconditionally; a disabled Metrics value is a no-op.
//
// The package only stores and snapshots values. Export backends live under
// metrics/export/ at the module root and read Snapshot copies; nothing
// here performs I/O or touches a global registry.
package metrics
