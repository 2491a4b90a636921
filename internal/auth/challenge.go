// ABOUTME: Challenge authority issuing single-use challenges bound to public keys
// ABOUTME: One outstanding challenge per key with linearizable consume semantics

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatsender/keygate/internal/crypto"
)

// DefaultChallengeTTL is how long an issued challenge stays valid.
const DefaultChallengeTTL = 2 * time.Minute

// Challenge is a single-use random value bound to a claimed public key.
// Value is the base64 text the client signs; the signature is computed over
// the UTF-8 bytes of that text, not over the decoded random bytes.
type Challenge struct {
	Value          string
	BoundPublicKey string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// ChallengeStore holds the at-most-one outstanding challenge per public key.
// Implementations must make ConsumeIfCurrent atomic: of two concurrent
// consumers of the same challenge, exactly one may win.
type ChallengeStore interface {
	// Put stores ch as the sole outstanding challenge for its key,
	// replacing and thereby cancelling any prior unconsumed challenge.
	Put(ctx context.Context, ch *Challenge) error

	// Get returns the outstanding challenge for the key, or
	// ErrNoOutstandingChallenge.
	Get(ctx context.Context, publicKey string) (*Challenge, error)

	// ConsumeIfCurrent removes the outstanding challenge for ch's key only
	// if it is still this exact challenge. Returns false when the challenge
	// was already consumed or superseded.
	ConsumeIfCurrent(ctx context.Context, ch *Challenge) (bool, error)

	// Delete removes the outstanding challenge for the key, if any.
	Delete(ctx context.Context, publicKey string) error
}

// Authority issues and consumes authentication challenges. Key authorization
// is the caller's concern; the authority only enforces challenge lifecycle.
type Authority struct {
	store  ChallengeStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewAuthority creates a challenge authority over the given store.
// A ttl of zero selects DefaultChallengeTTL.
func NewAuthority(store ChallengeStore, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Authority{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "challenge"),
	}
}

// Issue generates a fresh random challenge bound to the public key. Any
// prior unconsumed challenge for the key is invalidated.
func (a *Authority) Issue(ctx context.Context, publicKey string) (*Challenge, error) {
	raw, err := crypto.NewChallenge()
	if err != nil {
		return nil, err
	}

	now := a.now()
	ch := &Challenge{
		Value:          crypto.EncodeKey(raw),
		BoundPublicKey: publicKey,
		IssuedAt:       now,
		ExpiresAt:      now.Add(a.ttl),
	}

	if err := a.store.Put(ctx, ch); err != nil {
		return nil, fmt.Errorf("storing challenge: %w", err)
	}

	a.logger.Debug("challenge issued", "key_prefix", keyPrefix(publicKey), "expires_at", ch.ExpiresAt)
	return ch, nil
}

// Consume verifies the signature against the outstanding challenge for the
// key and retires the challenge on success. A failed signature leaves the
// challenge outstanding; expiry and successful consumption remove it.
func (a *Authority) Consume(ctx context.Context, publicKey string, signature []byte) error {
	ch, err := a.store.Get(ctx, publicKey)
	if err != nil {
		return err
	}

	if a.now().After(ch.ExpiresAt) {
		if err := a.store.Delete(ctx, publicKey); err != nil {
			a.logger.Warn("deleting expired challenge", "error", err)
		}
		return ErrChallengeExpired
	}

	rawKey, err := crypto.DecodePublicKey(publicKey)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !crypto.Verify([]byte(ch.Value), signature, rawKey) {
		return ErrSignatureMismatch
	}

	// Single-use gate: only one of any concurrent valid consumers may pass.
	ok, err := a.store.ConsumeIfCurrent(ctx, ch)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}
	if !ok {
		return ErrNoOutstandingChallenge
	}
	return nil
}

// keyPrefix returns a short key prefix safe for logs.
func keyPrefix(publicKey string) string {
	if len(publicKey) <= 12 {
		return publicKey
	}
	return publicKey[:12]
}

// MemoryChallengeStore is the default in-process ChallengeStore. Challenges
// are short-lived by design, so volatility across restarts is acceptable.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
}

// NewMemoryChallengeStore creates an empty in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
	}
}

// Put stores the challenge, replacing any outstanding one for the key.
func (s *MemoryChallengeStore) Put(_ context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ch
	s.challenges[ch.BoundPublicKey] = &cp
	return nil
}

// Get returns the outstanding challenge for the key.
func (s *MemoryChallengeStore) Get(_ context.Context, publicKey string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[publicKey]
	if !ok {
		return nil, ErrNoOutstandingChallenge
	}
	cp := *ch
	return &cp, nil
}

// ConsumeIfCurrent removes the challenge if the stored one has the same value.
func (s *MemoryChallengeStore) ConsumeIfCurrent(_ context.Context, ch *Challenge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.challenges[ch.BoundPublicKey]
	if !ok || cur.Value != ch.Value {
		return false, nil
	}
	delete(s.challenges, ch.BoundPublicKey)
	return true, nil
}

// Delete removes the outstanding challenge for the key, if any.
func (s *MemoryChallengeStore) Delete(_ context.Context, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, publicKey)
	return nil
}
