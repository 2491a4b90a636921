// ABOUTME: Package documentation for the keygate authentication core
// ABOUTME: Challenge authority, authenticator state machine, and session tokens

// Package auth implements the challenge-response protocol that gates access
// to the messaging backend.
//
// A client proves possession of the private half of a registered ed25519 key
// by signing a single-use random challenge. The Authority enforces challenge
// lifecycle (one outstanding challenge per key, bounded validity, atomic
// consumption); the Authenticator layers key authorization on top and mints
// short-lived HS256 bearer tokens on success. Revoking a key takes effect
// immediately for future challenges and verifications but does not recall
// tokens already minted; the token TTL bounds that exposure window.
package auth
