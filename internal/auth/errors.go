// ABOUTME: Error taxonomy for the challenge-response authentication flow
// ABOUTME: Sentinel errors surfaced to handlers and logged with specific reasons

package auth

import "errors"

var (
	// ErrUnauthorizedKey is returned when a public key is unknown, revoked,
	// or expired. Handlers surface it with a generic message so callers
	// cannot probe which keys exist.
	ErrUnauthorizedKey = errors.New("key not authorized")

	// ErrNoOutstandingChallenge is returned when verification is attempted
	// with no challenge outstanding for the key, including challenges lost
	// to a concurrent consume or superseded by a newer issue.
	ErrNoOutstandingChallenge = errors.New("no outstanding challenge")

	// ErrChallengeExpired is returned when the outstanding challenge is past
	// its validity window.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrSignatureMismatch is returned when the signature does not verify
	// against the outstanding challenge and the claimed public key.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrInvalidToken is returned for malformed or badly signed session tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for well-formed session tokens past expiry.
	ErrExpiredToken = errors.New("token expired")
)
