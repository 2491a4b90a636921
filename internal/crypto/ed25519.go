// ABOUTME: Ed25519 key generation, signing, and verification primitives
// ABOUTME: Normalizes 32-byte seed and 64-byte expanded private keys to one internal form

package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// PublicKeySize is the length of a raw ed25519 public key.
	PublicKeySize = ed25519.PublicKeySize

	// SeedSize is the length of the canonical private key form.
	SeedSize = ed25519.SeedSize

	// ExpandedKeySize is the length of a seed||pubkey private key as
	// produced by NaCl-style libraries on the client side.
	ExpandedKeySize = ed25519.PrivateKeySize

	// SignatureSize is the length of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize

	// ChallengeSize is the length of a random authentication challenge.
	ChallengeSize = 32
)

var (
	// ErrInvalidPrivateKey is returned when a private key has an unknown
	// length or its embedded public half does not match its seed.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrInvalidPublicKey is returned when a public key is not 32 raw bytes.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature is returned when a signature is not 64 raw bytes.
	ErrInvalidSignature = errors.New("invalid signature")
)

// GenerateKeyPair creates a new ed25519 key pair. The private key is
// returned in the canonical 32-byte seed form; the seed is the only
// secret material and is never persisted server-side.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return pub, priv.Seed(), nil
}

// NormalizePrivateKey converts either accepted private key encoding into the
// internal ed25519.PrivateKey representation.
//
// The canonical wire form is the 32-byte seed. The 64-byte seed||pubkey form
// is accepted for keys regenerated client-side by NaCl-style libraries; its
// public half is validated against the seed rather than trusted, so a
// corrupted or spliced key is rejected instead of silently signing with it.
func NormalizePrivateKey(priv []byte) (ed25519.PrivateKey, error) {
	switch len(priv) {
	case SeedSize:
		return ed25519.NewKeyFromSeed(priv), nil
	case ExpandedKeySize:
		derived := ed25519.NewKeyFromSeed(priv[:SeedSize])
		if !bytes.Equal(derived[SeedSize:], priv[SeedSize:]) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidPrivateKey)
		}
		return derived, nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPrivateKey, len(priv))
	}
}

// Sign signs message with the given private key (seed or expanded form).
// Signatures are deterministic per (message, key).
func Sign(message, privateKey []byte) ([]byte, error) {
	key, err := NormalizePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(key, message), nil
}

// Verify reports whether signature is a valid ed25519 signature of message
// by publicKey. Malformed input of any kind returns false, never a panic.
func Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// NewChallenge returns ChallengeSize cryptographically random bytes.
func NewChallenge() ([]byte, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating challenge: %w", err)
	}
	return buf, nil
}

// DecodePublicKey decodes a base64 public key and validates its length.
func DecodePublicKey(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(raw))
	}
	return raw, nil
}

// DecodeSignature decodes a base64 signature and validates its length.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != SignatureSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(raw))
	}
	return raw, nil
}

// EncodeKey returns the base64 encoding used for keys, signatures, and
// challenges on the wire.
func EncodeKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
