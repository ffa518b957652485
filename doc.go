// Package credvault provides the authentication and credential-vault core of a
// user-facing service: JWT access/refresh token issuance and verification,
// argon2id password credentials with automatic account lockout, a hashed
// refresh-token store with revocation, an encrypted OAuth2 token vault scoped
// per (user, service), and an append-only security event log.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// credvault is the public surface. It exposes [Engine], [Builder], [Config],
// the entity types ([User], [RefreshTokenRecord], [VaultToken],
// [SecurityEvent]) and the [Store] persistence boundary. Coordination details
// — audit dispatch, vault sealing, login throttling, metrics — live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Parse HTTP requests or extract client addresses; callers attach request
//     metadata with [WithClientIP] and [WithUserAgent].
//   - Run background timers; expiry is checked on the read path and the sweep
//     operations are caller-invoked.
//   - Let audit persistence failures surface from business operations; the
//     event sink is an explicit isolation boundary.
package credvault
