// ABOUTME: Authorized key store methods for the SQLite store
// ABOUTME: Covers registration, prefix resolution, revocation, and expiry purging

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateKey registers a new authorized key. Returns ErrDuplicateKey if the
// public key is already present, whether active or revoked.
func (s *SQLiteStore) CreateKey(ctx context.Context, key *AuthorizedKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_keys (public_key, status, created_at, expires_at, revoked_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key.PublicKey, string(key.Status), key.CreatedAt.UTC(), key.ExpiresAt.UTC(),
		nullTime(key.RevokedAt), nullTime(key.LastUsed),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting key: %w", err)
	}
	return nil
}

// GetKey retrieves a key by its exact public key.
func (s *SQLiteStore) GetKey(ctx context.Context, publicKey string) (*AuthorizedKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, status, created_at, expires_at, revoked_at, last_used
		FROM authorized_keys WHERE public_key = ?`, publicKey)
	return scanKey(row)
}

// ResolveKeyPrefix finds the single key matching the prefix. The prefix may
// also be the full key. SQLite LIKE needs escaping for the base64 characters
// '%' and '_', which never appear in standard base64, so a range scan on the
// primary key is used instead.
func (s *SQLiteStore) ResolveKeyPrefix(ctx context.Context, prefix string) (*AuthorizedKey, error) {
	if prefix == "" {
		return nil, ErrKeyNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, status, created_at, expires_at, revoked_at, last_used
		FROM authorized_keys
		WHERE public_key >= ? AND public_key < ?
		LIMIT 2`, prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, fmt.Errorf("querying key prefix: %w", err)
	}
	defer rows.Close()

	var matches []*AuthorizedKey
	for rows.Next() {
		key, err := scanKeyRows(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key prefix matches: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, ErrKeyNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguousPrefix
	}
}

// RevokeKey marks a key revoked. The row is kept for audit. Returns
// ErrKeyNotFound if the key does not exist.
func (s *SQLiteStore) RevokeKey(ctx context.Context, publicKey string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorized_keys SET status = ?, revoked_at = ?
		WHERE public_key = ?`,
		string(KeyStatusRevoked), at.UTC(), publicKey)
	if err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking revoke result: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// TouchKey records the last successful use of a key.
func (s *SQLiteStore) TouchKey(ctx context.Context, publicKey string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE authorized_keys SET last_used = ? WHERE public_key = ?`,
		at.UTC(), publicKey)
	if err != nil {
		return fmt.Errorf("touching key: %w", err)
	}
	return nil
}

// ListKeys returns all keys ordered by creation time.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]*AuthorizedKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, status, created_at, expires_at, revoked_at, last_used
		FROM authorized_keys ORDER BY created_at, public_key`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []*AuthorizedKey
	for rows.Next() {
		key, err := scanKeyRows(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// DeleteExpiredKeys removes keys expired before cutoff together with their
// sessions (the FK would otherwise block the delete).
func (s *SQLiteStore) DeleteExpiredKeys(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE public_key IN
			(SELECT public_key FROM authorized_keys WHERE expires_at < ?)`,
		cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("deleting sessions of expired keys: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM authorized_keys WHERE expires_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing expiry purge: %w", err)
	}
	return int(n), nil
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, for use as an exclusive range bound.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\xff"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row *sql.Row) (*AuthorizedKey, error) {
	key, err := scanKeyFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return key, err
}

func scanKeyRows(rows *sql.Rows) (*AuthorizedKey, error) {
	return scanKeyFrom(rows)
}

func scanKeyFrom(r rowScanner) (*AuthorizedKey, error) {
	var key AuthorizedKey
	var status string
	var revokedAt, lastUsed sql.NullTime

	if err := r.Scan(&key.PublicKey, &status, &key.CreatedAt, &key.ExpiresAt, &revokedAt, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning key: %w", err)
	}

	key.Status = KeyStatus(status)
	if revokedAt.Valid {
		t := revokedAt.Time
		key.RevokedAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}
	return &key, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
