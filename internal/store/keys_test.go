// ABOUTME: Tests for authorized key store operations
// ABOUTME: Covers registration, prefix resolution, revocation, and expiry purging

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := testKey("AAAAkey1")
	require.NoError(t, s.CreateKey(ctx, key))

	got, err := s.GetKey(ctx, "AAAAkey1")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey, got.PublicKey)
	assert.Equal(t, KeyStatusActive, got.Status)
	assert.Nil(t, got.RevokedAt)
	assert.Nil(t, got.LastUsed)
	assert.True(t, got.Usable(time.Now()))
}

func TestKeyStore_Create_Duplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, testKey("dupkey")))
	err := s.CreateKey(ctx, testKey("dupkey"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestKeyStore_Create_RevokedKeyStaysRegistered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, testKey("oncekey")))
	require.NoError(t, s.RevokeKey(ctx, "oncekey", time.Now()))

	// Revocation is irreversible: the same key cannot be registered again.
	err := s.CreateKey(ctx, testKey("oncekey"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestKeyStore_GetKey_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyStore_ResolveKeyPrefix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, testKey("abc123")))
	require.NoError(t, s.CreateKey(ctx, testKey("abd456")))
	require.NoError(t, s.CreateKey(ctx, testKey("xyz789")))

	tests := []struct {
		name    string
		prefix  string
		want    string
		wantErr error
	}{
		{"unique prefix", "abc", "abc123", nil},
		{"full key", "xyz789", "xyz789", nil},
		{"ambiguous prefix", "ab", "", ErrAmbiguousPrefix},
		{"no match", "zzz", "", ErrKeyNotFound},
		{"empty prefix", "", "", ErrKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := s.ResolveKeyPrefix(ctx, tt.prefix)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key.PublicKey)
		})
	}
}

func TestKeyStore_Revoke(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, testKey("revkey")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RevokeKey(ctx, "revkey", at))

	key, err := s.GetKey(ctx, "revkey")
	require.NoError(t, err)
	assert.Equal(t, KeyStatusRevoked, key.Status)
	require.NotNil(t, key.RevokedAt)
	assert.False(t, key.Usable(time.Now()))

	assert.ErrorIs(t, s.RevokeKey(ctx, "missing", at), ErrKeyNotFound)
}

func TestKeyStore_TouchKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, testKey("touchkey")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchKey(ctx, "touchkey", at))

	key, err := s.GetKey(ctx, "touchkey")
	require.NoError(t, err)
	require.NotNil(t, key.LastUsed)
	assert.Equal(t, at, key.LastUsed.UTC())
}

func TestKeyStore_List_OrderedByCreation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, pk := range []string{"second", "first", "third"} {
		key := testKey(pk)
		// Reverse insertion order from creation order
		key.CreatedAt = base.Add(time.Duration([]int{2, 1, 3}[i]) * time.Minute)
		require.NoError(t, s.CreateKey(ctx, key))
	}

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "first", keys[0].PublicKey)
	assert.Equal(t, "second", keys[1].PublicKey)
	assert.Equal(t, "third", keys[2].PublicKey)
}

func TestKeyStore_DeleteExpiredKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	fresh := testKey("freshkey")
	require.NoError(t, s.CreateKey(ctx, fresh))

	stale := testKey("stalekey")
	stale.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.CreateKey(ctx, stale))

	// Sessions of expired keys must go with them (FK).
	require.NoError(t, s.CreateSession(ctx, &Session{
		ID:           "sess-stale",
		PublicKey:    "stalekey",
		MatrixUserID: "@temp_stale:fed.local",
		Alias:        "SilentFox0001",
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}))

	n, err := s.DeleteExpiredKeys(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetKey(ctx, "stalekey")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = s.GetSession(ctx, "sess-stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.GetKey(ctx, "freshkey")
	assert.NoError(t, err)
}
