// ABOUTME: Package documentation for keygate persistence
// ABOUTME: Describes the durable state owned by the auth subsystem

// Package store persists the durable state of the authentication subsystem:
// the authorized key table and the session-to-Matrix-identity mapping.
// Challenges are short-lived and intentionally not stored here; see
// internal/auth for the challenge stores.
package store
