// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive credential workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - cv:al:  — login per-user
//   - cv:ali: — login per-IP
//
// # What this package must NOT do
//
//   - Implement the persistent per-account lockout (that lives on the user row).
//   - Be imported outside the credvault module.
package rate
