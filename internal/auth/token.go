// ABOUTME: Session token minting and verification for authenticated keys
// ABOUTME: HS256 JWTs with the subject claim carrying the base64 public key

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds the window in which a token minted before a key
// revocation stays usable. Keep it short; revocation is not retroactive.
const DefaultTokenTTL = 30 * time.Minute

// TokenIssuer mints and verifies bearer session tokens. The token is
// self-verifying (HMAC) and carries only the subject public key and expiry,
// nothing secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer with the given HMAC secret.
// A ttl of zero selects DefaultTokenTTL.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue mints a bearer token whose subject is the base64 public key.
func (t *TokenIssuer) Issue(publicKey string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   publicKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and returns the subject public key.
func (t *TokenIssuer) Verify(tokenString string) (publicKey string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// Only HS256 tokens are ever minted; reject anything else.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
