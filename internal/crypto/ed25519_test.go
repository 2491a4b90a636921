// ABOUTME: Unit tests for ed25519 signing, verification, and key normalization
// ABOUTME: Covers seed vs expanded private keys and malformed input handling

package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	require.Len(t, pub, PublicKeySize)
	require.Len(t, priv, SeedSize)

	msg := []byte("challenge-bytes")
	sig, err := Sign(msg, priv)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	assert.True(t, Verify(msg, sig, pub))
	assert.False(t, Verify([]byte("other message"), sig, pub))
}

func TestSign_Deterministic(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("same message")
	sig1, err := Sign(msg, priv)
	require.NoError(t, err)
	sig2, err := Sign(msg, priv)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
}

func TestNormalizePrivateKey_ExpandedForm(t *testing.T) {
	pub, seed, err := GenerateKeyPair()
	require.NoError(t, err)

	// Build the 64-byte seed||pubkey form a NaCl-style client would hold.
	expanded := append(append([]byte{}, seed...), pub...)

	msg := []byte("hello")
	sigSeed, err := Sign(msg, seed)
	require.NoError(t, err)
	sigExpanded, err := Sign(msg, expanded)
	require.NoError(t, err)

	assert.Equal(t, sigSeed, sigExpanded, "both encodings must sign identically")
	assert.True(t, Verify(msg, sigExpanded, pub))
}

func TestNormalizePrivateKey_RejectsBadInput(t *testing.T) {
	pub, seed, err := GenerateKeyPair()
	require.NoError(t, err)

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		priv []byte
	}{
		{"empty", nil},
		{"short", seed[:16]},
		{"long", make([]byte, 65)},
		{"spliced public half", append(append([]byte{}, seed...), otherPub...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizePrivateKey(tt.priv)
			assert.ErrorIs(t, err, ErrInvalidPrivateKey)
		})
	}

	// Sanity check the happy path still matches pub.
	key, err := NormalizePrivateKey(seed)
	require.NoError(t, err)
	assert.Equal(t, ed25519.PublicKey(pub), key.Public())
}

func TestVerify_MalformedInputReturnsFalse(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	sig, err := Sign([]byte("m"), priv)
	require.NoError(t, err)

	assert.False(t, Verify([]byte("m"), sig, nil))
	assert.False(t, Verify([]byte("m"), sig, pub[:16]))
	assert.False(t, Verify([]byte("m"), nil, pub))
	assert.False(t, Verify([]byte("m"), sig[:10], pub))
	assert.False(t, Verify([]byte("m"), make([]byte, SignatureSize), pub))
}

func TestDecodePublicKey(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := DecodePublicKey(EncodeKey(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)

	_, err = DecodePublicKey("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = DecodePublicKey(EncodeKey([]byte("too short")))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestNewChallenge(t *testing.T) {
	c1, err := NewChallenge()
	require.NoError(t, err)
	c2, err := NewChallenge()
	require.NoError(t, err)

	assert.Len(t, c1, ChallengeSize)
	assert.NotEqual(t, c1, c2)
}
