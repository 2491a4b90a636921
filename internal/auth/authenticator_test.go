// ABOUTME: Tests for the authenticator end-to-end challenge-response flow
// ABOUTME: Covers unauthorized keys, revocation taking effect, and token minting

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsender/keygate/internal/crypto"
	"github.com/chatsender/keygate/internal/store"
)

// fakeRegistry is an in-memory KeyRegistry for authenticator tests.
type fakeRegistry struct {
	mu   sync.Mutex
	keys map[string]*store.AuthorizedKey
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{keys: make(map[string]*store.AuthorizedKey)}
}

func (r *fakeRegistry) add(publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.keys[publicKey] = &store.AuthorizedKey{
		PublicKey: publicKey,
		Status:    store.KeyStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func (r *fakeRegistry) revoke(publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[publicKey].Status = store.KeyStatusRevoked
}

func (r *fakeRegistry) GetKey(_ context.Context, publicKey string) (*store.AuthorizedKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[publicKey]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *fakeRegistry) TouchKey(_ context.Context, publicKey string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[publicKey]; ok {
		key.LastUsed = &at
	}
	return nil
}

func newTestAuthenticator(registry KeyRegistry) *Authenticator {
	authority := NewAuthority(NewMemoryChallengeStore(), time.Minute)
	tokens := NewTokenIssuer([]byte("test-secret"), 30*time.Minute)
	return NewAuthenticator(registry, authority, tokens)
}

func TestAuthenticator_FullFlow(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)
	ctx := context.Background()

	publicKey, priv := newTestIdentity(t)
	registry.add(publicKey)

	challenge, err := a.RequestChallenge(ctx, publicKey)
	require.NoError(t, err)

	token, err := a.VerifyChallenge(ctx, publicKey, crypto.EncodeKey(signChallenge(t, challenge, priv)))
	require.NoError(t, err)

	subject, err := a.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, publicKey, subject)

	// Success records key usage.
	key, err := registry.GetKey(ctx, publicKey)
	require.NoError(t, err)
	assert.NotNil(t, key.LastUsed)
}

func TestAuthenticator_RequestChallenge_UnknownKey(t *testing.T) {
	a := newTestAuthenticator(newFakeRegistry())

	publicKey, _ := newTestIdentity(t)
	_, err := a.RequestChallenge(context.Background(), publicKey)
	assert.ErrorIs(t, err, ErrUnauthorizedKey)
}

func TestAuthenticator_RequestChallenge_MalformedKey(t *testing.T) {
	a := newTestAuthenticator(newFakeRegistry())

	// Indistinguishable from an unknown key, by design.
	_, err := a.RequestChallenge(context.Background(), "not base64 at all")
	assert.ErrorIs(t, err, ErrUnauthorizedKey)
}

func TestAuthenticator_RequestChallenge_ExpiredKey(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)

	publicKey, _ := newTestIdentity(t)
	registry.add(publicKey)
	registry.keys[publicKey].ExpiresAt = time.Now().Add(-time.Hour)

	_, err := a.RequestChallenge(context.Background(), publicKey)
	assert.ErrorIs(t, err, ErrUnauthorizedKey)
}

func TestAuthenticator_Verify_RevocationTakesEffectImmediately(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)
	ctx := context.Background()

	publicKey, priv := newTestIdentity(t)
	registry.add(publicKey)

	challenge, err := a.RequestChallenge(ctx, publicKey)
	require.NoError(t, err)

	// Revoked between challenge and verify: the outstanding challenge does
	// not help.
	registry.revoke(publicKey)

	_, err = a.VerifyChallenge(ctx, publicKey, crypto.EncodeKey(signChallenge(t, challenge, priv)))
	assert.ErrorIs(t, err, ErrUnauthorizedKey)

	_, err = a.RequestChallenge(ctx, publicKey)
	assert.ErrorIs(t, err, ErrUnauthorizedKey)
}

func TestAuthenticator_Verify_WithoutChallenge(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)

	publicKey, priv := newTestIdentity(t)
	registry.add(publicKey)

	sig := crypto.EncodeKey(signChallenge(t, "never-issued", priv))
	_, err := a.VerifyChallenge(context.Background(), publicKey, sig)
	assert.ErrorIs(t, err, ErrNoOutstandingChallenge)
}

func TestAuthenticator_Verify_BadSignatureEncoding(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)
	ctx := context.Background()

	publicKey, _ := newTestIdentity(t)
	registry.add(publicKey)

	_, err := a.RequestChallenge(ctx, publicKey)
	require.NoError(t, err)

	_, err = a.VerifyChallenge(ctx, publicKey, "%%% not base64 %%%")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestAuthenticator_Verify_ExpandedClientKey(t *testing.T) {
	registry := newFakeRegistry()
	a := newTestAuthenticator(registry)
	ctx := context.Background()

	pub, seed, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	publicKey := crypto.EncodeKey(pub)
	registry.add(publicKey)

	// Clients regenerating keys from NaCl-style libraries sign with the
	// 64-byte seed||pubkey form.
	expanded := append(append([]byte{}, seed...), pub...)

	challenge, err := a.RequestChallenge(ctx, publicKey)
	require.NoError(t, err)

	sig, err := crypto.Sign([]byte(challenge), expanded)
	require.NoError(t, err)

	_, err = a.VerifyChallenge(ctx, publicKey, crypto.EncodeKey(sig))
	assert.NoError(t, err)
}
