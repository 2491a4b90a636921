// ABOUTME: Session bridge between authenticated keys and ephemeral Matrix users
// ABOUTME: Starts, reuses, inspects, and ends chat sessions backed by Synapse

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatsender/keygate/internal/store"
)

// ErrKeyRevoked is returned when a session operation is attempted with a key
// that is no longer usable. A valid session token does not outlive its key.
var ErrKeyRevoked = errors.New("key no longer authorized")

// SessionCredentials is what a client needs to talk to the chat backend.
type SessionCredentials struct {
	SessionID    string
	MatrixUserID string
	Alias        string
	AccessToken  string
	ServerName   string
	Reused       bool
}

// Bridge manages the mapping from authorized keys to ephemeral Matrix users.
// Each key has at most one active session; starting a session while one is
// live returns the existing credentials instead of provisioning anew.
type Bridge struct {
	store   store.Store
	synapse SynapseAPI
	now     func() time.Time
	logger  *slog.Logger
}

// NewBridge creates a session bridge over the given store and homeserver.
func NewBridge(st store.Store, synapse SynapseAPI) *Bridge {
	return &Bridge{
		store:   st,
		synapse: synapse,
		now:     time.Now,
		logger:  slog.Default().With("component", "bridge"),
	}
}

// StartSession returns credentials for the key's chat session, provisioning a
// fresh ephemeral user when none is active. The key's status is re-checked
// here so revocation takes effect even while a session token is still valid.
func (b *Bridge) StartSession(ctx context.Context, publicKey string) (*SessionCredentials, error) {
	key, err := b.store.GetKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, ErrKeyRevoked
		}
		return nil, fmt.Errorf("loading key: %w", err)
	}
	if !key.Usable(b.now()) {
		return nil, ErrKeyRevoked
	}

	existing, err := b.store.GetActiveSessionByKey(ctx, publicKey)
	switch {
	case err == nil:
		if existing.AccessToken != "" {
			if err := b.store.TouchSession(ctx, existing.ID, b.now()); err != nil {
				b.logger.Warn("failed to touch reused session", "session_id", existing.ID, "error", err)
			}
			b.logger.Info("reusing active session", "session_id", existing.ID, "alias", existing.Alias)
			return &SessionCredentials{
				SessionID:    existing.ID,
				MatrixUserID: existing.MatrixUserID,
				Alias:        existing.Alias,
				AccessToken:  existing.AccessToken,
				ServerName:   b.synapse.ServerName(),
				Reused:       true,
			}, nil
		}
		// A session without a token never finished provisioning. Retire it
		// and start over.
		if err := b.retireSession(ctx, existing); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrSessionNotFound):
	default:
		return nil, fmt.Errorf("looking up active session: %w", err)
	}

	return b.provisionSession(ctx, publicKey)
}

func (b *Bridge) provisionSession(ctx context.Context, publicKey string) (*SessionCredentials, error) {
	sessionID := uuid.NewString()
	alias := NewAlias(publicKey, sessionID)

	user, err := b.synapse.CreateTemporaryUser(ctx, publicKey, sessionID)
	if err != nil {
		return nil, err
	}

	accessToken, err := b.synapse.LoginUser(ctx, user.UserID, user.Password)
	if err != nil {
		// The user exists but is unusable; deactivate so the janitor does
		// not have to find it later.
		if delErr := b.synapse.DeactivateUser(ctx, user.UserID); delErr != nil {
			b.logger.Warn("failed to deactivate half-provisioned user", "user_id", user.UserID, "error", delErr)
		}
		return nil, err
	}

	now := b.now()
	sess := &store.Session{
		ID:           sessionID,
		PublicKey:    publicKey,
		MatrixUserID: user.UserID,
		Alias:        alias,
		AccessToken:  accessToken,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	if err := b.store.CreateSession(ctx, sess); err != nil {
		if delErr := b.synapse.DeactivateUser(ctx, user.UserID); delErr != nil {
			b.logger.Warn("failed to deactivate unrecorded user", "user_id", user.UserID, "error", delErr)
		}
		return nil, fmt.Errorf("recording session: %w", err)
	}

	b.logger.Info("started session", "session_id", sessionID, "alias", alias, "user_id", user.UserID)
	return &SessionCredentials{
		SessionID:    sessionID,
		MatrixUserID: user.UserID,
		Alias:        alias,
		AccessToken:  accessToken,
		ServerName:   b.synapse.ServerName(),
	}, nil
}

// EndSession tears down the key's session. It is idempotent: ending a
// session that does not exist, is already ended, or belongs to another key
// is a no-op rather than an error, so clients can always log out safely.
func (b *Bridge) EndSession(ctx context.Context, publicKey, sessionID string) error {
	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.Active || sess.PublicKey != publicKey {
		return nil
	}
	return b.retireSession(ctx, sess)
}

// retireSession deactivates the downstream user and marks the session
// inactive. Downstream failure is logged but does not block the local end;
// the janitor reaps users that outlive their sessions.
func (b *Bridge) retireSession(ctx context.Context, sess *store.Session) error {
	if err := b.synapse.DeactivateUser(ctx, sess.MatrixUserID); err != nil {
		b.logger.Warn("failed to deactivate session user", "session_id", sess.ID, "user_id", sess.MatrixUserID, "error", err)
	}
	if err := b.store.EndSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("ending session: %w", err)
	}
	b.logger.Info("ended session", "session_id", sess.ID, "alias", sess.Alias)
	return nil
}

// SessionInfo returns the key's active session and refreshes its activity
// timestamp. Returns store.ErrSessionNotFound when the key has none.
func (b *Bridge) SessionInfo(ctx context.Context, publicKey string) (*store.Session, error) {
	sess, err := b.store.GetActiveSessionByKey(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if err := b.store.TouchSession(ctx, sess.ID, b.now()); err != nil {
		b.logger.Warn("failed to touch session", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

// Lookup resolves an active session by alias, public key, or Matrix user ID.
// Only active sessions are visible; ended ones are indistinguishable from
// never-existed.
func (b *Bridge) Lookup(ctx context.Context, query string) (*store.Session, error) {
	return b.store.LookupActiveSession(ctx, query)
}
