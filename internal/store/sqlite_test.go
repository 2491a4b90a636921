// ABOUTME: Test helper and basic lifecycle tests for the SQLite store
// ABOUTME: Each test gets an isolated database file under t.TempDir()

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupTestStore creates a SQLite store in a temp directory, cleaned up
// automatically when the test finishes.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keygate-test.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testKey returns an AuthorizedKey with sane defaults for tests.
func testKey(publicKey string) *AuthorizedKey {
	now := time.Now().UTC().Truncate(time.Second)
	return &AuthorizedKey{
		PublicKey: publicKey,
		Status:    KeyStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func TestNewSQLiteStore_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "keygate.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keygate.db")

	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateKey(ctx, testKey("persisted-key")))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	key, err := s2.GetKey(ctx, "persisted-key")
	require.NoError(t, err)
	require.Equal(t, KeyStatusActive, key.Status)
}
