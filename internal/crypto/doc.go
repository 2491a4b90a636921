// ABOUTME: Package documentation for keygate cryptographic primitives
// ABOUTME: Explains the dual private key encodings and the canonical form

// Package crypto provides the ed25519 signature engine used by the
// challenge-response authentication flow.
//
// Keys travel as base64-encoded raw bytes. The canonical private key form
// is the 32-byte seed; the 64-byte seed||pubkey form produced by NaCl-style
// client libraries is accepted and normalized at this boundary so the rest
// of the codebase only ever sees one representation.
package crypto
