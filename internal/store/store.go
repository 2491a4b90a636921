// ABOUTME: Store interface and data types for keygate persistence
// ABOUTME: Defines AuthorizedKey, Session structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a requested key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrDuplicateKey is returned when registering a public key that is already
// present, active or revoked. Revocation is irreversible; a revoked key is
// kept for audit and can never be re-registered.
var ErrDuplicateKey = errors.New("key already registered")

// ErrAmbiguousPrefix is returned when a key prefix matches more than one key.
var ErrAmbiguousPrefix = errors.New("prefix matches multiple keys")

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// KeyStatus is the lifecycle state of an authorized key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// AuthorizedKey is a registered ed25519 public key. The base64-encoded raw
// key is the unique identifier; no profile data is attached to it.
type AuthorizedKey struct {
	PublicKey string // base64 of 32 raw bytes
	Status    KeyStatus
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	LastUsed  *time.Time
}

// Expired reports whether the key is past its expiry at the given instant.
func (k *AuthorizedKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Usable reports whether the key may be used for challenge issuance and
// verification: it must be active and not expired.
func (k *AuthorizedKey) Usable(now time.Time) bool {
	return k.Status == KeyStatusActive && !k.Expired(now)
}

// Session links an authorized key to an ephemeral Matrix identity for the
// lifetime of one chat session.
type Session struct {
	ID           string // UUID
	PublicKey    string
	MatrixUserID string // @localpart:server
	Alias        string
	AccessToken  string // Matrix access token, empty if login failed
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// Store defines the interface for key and session persistence.
type Store interface {
	// Keys
	CreateKey(ctx context.Context, key *AuthorizedKey) error
	GetKey(ctx context.Context, publicKey string) (*AuthorizedKey, error)
	// ResolveKeyPrefix finds the single key whose public key starts with
	// prefix. Returns ErrKeyNotFound or ErrAmbiguousPrefix otherwise.
	ResolveKeyPrefix(ctx context.Context, prefix string) (*AuthorizedKey, error)
	RevokeKey(ctx context.Context, publicKey string, at time.Time) error
	TouchKey(ctx context.Context, publicKey string, at time.Time) error
	ListKeys(ctx context.Context) ([]*AuthorizedKey, error)
	// DeleteExpiredKeys removes keys whose expiry is before cutoff, along
	// with their sessions. Returns the number of keys removed.
	DeleteExpiredKeys(ctx context.Context, cutoff time.Time) (int, error)

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetActiveSessionByKey(ctx context.Context, publicKey string) (*Session, error)
	// LookupActiveSession resolves an active session by alias, public key,
	// or Matrix user ID.
	LookupActiveSession(ctx context.Context, query string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	EndSession(ctx context.Context, id string) error
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error)
	ListEndedSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
