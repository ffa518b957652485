// Package secret implements authenticated encryption for vaulted third-party
// token material.
//
// # Wire format
//
// Sealed values are nonce || ciphertext, raw-base64 encoded. The nonce is
// generated fresh per Seal call; the AEAD tag authenticates the whole payload,
// so any bit flip fails Open.
//
// # What this package must NOT do
//
//   - Manage or persist keys.
//   - Import credvault or any sibling internal package.
package secret
