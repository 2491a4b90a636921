// ABOUTME: Session store methods for the SQLite store
// ABOUTME: Tracks ephemeral Matrix identities bound to authorized keys

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `session_id, public_key, matrix_user_id, alias, access_token, created_at, last_activity, active`

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.PublicKey, sess.MatrixUserID, sess.Alias, sess.AccessToken,
		sess.CreatedAt.UTC(), sess.LastActivity.UTC(), sess.Active,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

// GetActiveSessionByKey returns the most recent active session for a key,
// or ErrSessionNotFound if the key has none.
func (s *SQLiteStore) GetActiveSessionByKey(ctx context.Context, publicKey string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE public_key = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1`, publicKey)
	return scanSession(row)
}

// LookupActiveSession resolves an active session by alias, public key, or
// Matrix user ID, preferring the most recently active match.
func (s *SQLiteStore) LookupActiveSession(ctx context.Context, query string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE active = 1 AND (alias = ? OR public_key = ? OR matrix_user_id = ?)
		ORDER BY last_activity DESC LIMIT 1`, query, query, query)
	return scanSession(row)
}

// TouchSession updates the last-activity timestamp of a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireSessionRow(res)
}

// EndSession marks a session inactive. Ending an already-ended session is
// not an error; the operation is idempotent at the bridge layer.
func (s *SQLiteStore) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0 WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return requireSessionRow(res)
}

// ListIdleSessions returns active sessions whose last activity is before cutoff.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE active = 1 AND last_activity < ?
		ORDER BY last_activity`, cutoff.UTC())
}

// ListEndedSessions returns sessions marked inactive, for orphan reaping.
func (s *SQLiteStore) ListEndedSessions(ctx context.Context) ([]*Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE active = 0 ORDER BY last_activity`)
}

// DeleteSession removes a session record entirely.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSessionFrom(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func scanSessionFrom(r rowScanner) (*Session, error) {
	var sess Session
	var accessToken sql.NullString

	err := r.Scan(&sess.ID, &sess.PublicKey, &sess.MatrixUserID, &sess.Alias,
		&accessToken, &sess.CreatedAt, &sess.LastActivity, &sess.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.AccessToken = accessToken.String
	return &sess, nil
}

func requireSessionRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session update: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
