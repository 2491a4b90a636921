// ABOUTME: Unit tests for session token minting and verification
// ABOUTME: Tests valid tokens, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuer_ValidToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-for-jwt-signing"), time.Hour)

	publicKey := "dGVzdC1wdWJsaWMta2V5LXN1YmplY3Q="
	token, err := issuer.Issue(publicKey)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got != publicKey {
		t.Errorf("Verify() = %q, want %q", got, publicKey)
	}
}

func TestTokenIssuer_InvalidToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-for-jwt-signing"), time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other := NewTokenIssuer([]byte("different-secret"), time.Hour)
				token, _ := other.Issue("subject")
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-for-jwt-signing"), time.Minute)

	base := time.Now()
	issuer.now = func() time.Time { return base }

	token, err := issuer.Issue("subject-key")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Advance past expiry.
	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = issuer.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenIssuer_DefaultTTL(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), 0)
	if issuer.ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", issuer.ttl, DefaultTokenTTL)
	}
}
