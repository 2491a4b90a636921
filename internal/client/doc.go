// ABOUTME: Package documentation for the client agent
// ABOUTME: Local key custody, challenge signing, and session lifecycle

// Package client is the agent side of the gateway's challenge-response
// protocol. It keeps the ed25519 private key in process memory only, signs
// challenges locally, and tracks an idle timeout on the resulting session.
// Logout purges the token and the key material; a logged-out client cannot
// be reused.
package client
