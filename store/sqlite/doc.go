// Package sqlite provides the bundled [credvault.Store] implementation over a
// single SQLite file.
//
// # Schema conventions
//
// Timestamps are stored as UTC unix milliseconds. The one-active-row
// invariant for vault tokens is enforced with a partial unique index on
// (user_id, service_name) WHERE is_active = 1, so the serialization point
// lives in the database rather than in engine code.
//
// # Architecture boundaries
//
// This package owns SQL and row mapping only. Domain policy — lockout
// thresholds, expiry interpretation, sealing — lives in the engine; the store
// exposes plain reads and guarded writes.
package sqlite
