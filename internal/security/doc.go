// Package security provides the relay's credential and transport helpers:
//
//   - Room password hashing and constant-time verification (SHA-256 hex)
//   - Readable room password and admin key generation
//   - Admin key checks for the room management endpoint
//   - TLS setup: self-signed CA (ECDSA P-384), Let's Encrypt, or custom files
//
// Room passwords are only ever stored hashed. Transport confidentiality is
// delegated to TLS, either terminated here or by a fronting proxy.
package security
