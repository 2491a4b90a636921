// ABOUTME: Authenticator orchestrating the challenge-response state machine
// ABOUTME: Registry check, challenge issue/consume, and session token minting

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chatsender/keygate/internal/crypto"
	"github.com/chatsender/keygate/internal/store"
)

// KeyRegistry is the slice of the store the authenticator needs: key lookup
// and last-used bookkeeping. All key mutation stays behind the store API.
type KeyRegistry interface {
	GetKey(ctx context.Context, publicKey string) (*store.AuthorizedKey, error)
	TouchKey(ctx context.Context, publicKey string, at time.Time) error
}

// Authenticator drives one authentication attempt from challenge request to
// token mint. Per attempt the legal paths are: challenge issued then verified
// (token minted), or a terminal failure with a specific reason.
type Authenticator struct {
	registry  KeyRegistry
	authority *Authority
	tokens    *TokenIssuer
	now       func() time.Time
	logger    *slog.Logger
}

// NewAuthenticator wires the registry, challenge authority, and token issuer.
func NewAuthenticator(registry KeyRegistry, authority *Authority, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{
		registry:  registry,
		authority: authority,
		tokens:    tokens,
		now:       time.Now,
		logger:    slog.Default().With("component", "auth"),
	}
}

// RequestChallenge issues a challenge for an active, unexpired key. The
// returned string is the base64 challenge text the client must sign.
// Malformed and unknown keys fail identically with ErrUnauthorizedKey.
func (a *Authenticator) RequestChallenge(ctx context.Context, publicKey string) (string, error) {
	if err := a.checkKeyUsable(ctx, publicKey); err != nil {
		return "", err
	}

	ch, err := a.authority.Issue(ctx, publicKey)
	if err != nil {
		return "", err
	}
	return ch.Value, nil
}

// VerifyChallenge checks the signature over the outstanding challenge and on
// success mints a bearer session token bound to the public key. The key's
// status is re-checked so a revocation between issue and verify takes effect
// immediately.
func (a *Authenticator) VerifyChallenge(ctx context.Context, publicKey, signature string) (string, error) {
	if err := a.checkKeyUsable(ctx, publicKey); err != nil {
		return "", err
	}

	sig, err := crypto.DecodeSignature(signature)
	if err != nil {
		return "", ErrSignatureMismatch
	}

	if err := a.authority.Consume(ctx, publicKey, sig); err != nil {
		a.logger.Info("verification failed",
			"key_prefix", keyPrefix(publicKey), "reason", err)
		return "", err
	}

	if err := a.registry.TouchKey(ctx, publicKey, a.now()); err != nil {
		// Bookkeeping only; the authentication itself already succeeded.
		a.logger.Warn("updating key last-used failed", "error", err)
	}

	token, err := a.tokens.Issue(publicKey)
	if err != nil {
		return "", err
	}

	a.logger.Info("authentication succeeded", "key_prefix", keyPrefix(publicKey))
	return token, nil
}

// checkKeyUsable maps registry state onto ErrUnauthorizedKey without
// distinguishing unknown, revoked, and expired keys to the caller.
func (a *Authenticator) checkKeyUsable(ctx context.Context, publicKey string) error {
	if _, err := crypto.DecodePublicKey(publicKey); err != nil {
		return ErrUnauthorizedKey
	}

	key, err := a.registry.GetKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return ErrUnauthorizedKey
		}
		return err
	}
	if !key.Usable(a.now()) {
		return ErrUnauthorizedKey
	}
	return nil
}
