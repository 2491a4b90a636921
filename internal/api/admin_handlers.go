// ABOUTME: Key administration and maintenance endpoints
// ABOUTME: Generate/import/list/revoke authorized keys and trigger cleanup

package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/chatsender/keygate/internal/crypto"
	"github.com/chatsender/keygate/internal/store"
)

// maxGeneratedKeys caps a single generate request.
const maxGeneratedKeys = 100

// keyResponse is the wire shape for a registered key. PrivateKey is set only
// on generation; the server never stores it.
type keyResponse struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	Prefix     string `json:"prefix"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	RevokedAt  string `json:"revoked_at,omitempty"`
	LastUsed   string `json:"last_used,omitempty"`
}

func keyToResponse(k *store.AuthorizedKey) keyResponse {
	resp := keyResponse{
		PublicKey: k.PublicKey,
		Prefix:    keyPrefix(k.PublicKey),
		Status:    string(k.Status),
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: k.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if k.RevokedAt != nil {
		resp.RevokedAt = k.RevokedAt.UTC().Format(time.RFC3339)
	}
	if k.LastUsed != nil {
		resp.LastUsed = k.LastUsed.UTC().Format(time.RFC3339)
	}
	return resp
}

func keyPrefix(publicKey string) string {
	if len(publicKey) <= 16 {
		return publicKey
	}
	return publicKey[:16]
}

// handleKeysGenerate mints new keypairs and registers their public halves.
// The private keys appear in this response and nowhere else.
func (s *Server) handleKeysGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > maxGeneratedKeys {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("count must be at most %d", maxGeneratedKeys))
		return
	}

	now := s.now()
	keys := make([]keyResponse, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			s.logger.Error("key generation failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		key := &store.AuthorizedKey{
			PublicKey: crypto.EncodeKey(pub),
			Status:    store.KeyStatusActive,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.KeyExpiry),
		}
		if err := s.store.CreateKey(r.Context(), key); err != nil {
			s.logger.Error("registering generated key failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := keyToResponse(key)
		resp.PrivateKey = crypto.EncodeKey(priv)
		keys = append(keys, resp)
	}

	s.logger.Info("generated keys", "count", len(keys))
	s.writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// handleKeysImport registers an externally generated public key, given either
// as raw base64 or as an OpenSSH ssh-ed25519 line.
func (s *Server) handleKeysImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"public_key"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PublicKey == "" {
		s.writeError(w, http.StatusBadRequest, "public_key is required")
		return
	}

	normalized, err := normalizePublicKeyInput(req.PublicKey)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now()
	key := &store.AuthorizedKey{
		PublicKey: normalized,
		Status:    store.KeyStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.KeyExpiry),
	}
	if err := s.store.CreateKey(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			s.writeError(w, http.StatusConflict, "key already registered")
			return
		}
		s.logger.Error("importing key failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("imported key", "key_prefix", keyPrefix(normalized))
	s.writeJSON(w, http.StatusOK, keyToResponse(key))
}

// normalizePublicKeyInput accepts a raw base64 key or an OpenSSH
// authorized_keys line and returns the canonical base64 raw form.
func normalizePublicKeyInput(input string) (string, error) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, ssh.KeyAlgoED25519+" ") {
		parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(input))
		if err != nil {
			return "", fmt.Errorf("parsing ssh public key: %w", err)
		}
		cryptoKey, ok := parsed.(ssh.CryptoPublicKey)
		if !ok {
			return "", errors.New("unsupported ssh key type")
		}
		edKey, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return "", errors.New("ssh key is not ed25519")
		}
		return crypto.EncodeKey(edKey), nil
	}

	raw, err := crypto.DecodePublicKey(input)
	if err != nil {
		return "", errors.New("public_key must be 32 bytes of base64 or an ssh-ed25519 line")
	}
	return crypto.EncodeKey(raw), nil
}

// handleKeysList returns every registered key, active and revoked.
func (s *Server) handleKeysList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListKeys(r.Context())
	if err != nil {
		s.logger.Error("listing keys failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, keyToResponse(k))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keys": resp})
}

// handleKeysRevoke revokes the single key matching the given prefix.
func (s *Server) handleKeysRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Prefix == "" {
		s.writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	key, err := s.store.ResolveKeyPrefix(r.Context(), req.Prefix)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrKeyNotFound):
			s.writeError(w, http.StatusNotFound, "key not found")
		case errors.Is(err, store.ErrAmbiguousPrefix):
			s.writeError(w, http.StatusConflict, "prefix matches multiple keys")
		default:
			s.logger.Error("resolving key prefix failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if key.Status == store.KeyStatusRevoked {
		s.writeError(w, http.StatusConflict, "key already revoked")
		return
	}

	if err := s.store.RevokeKey(r.Context(), key.PublicKey, s.now()); err != nil {
		s.logger.Error("revoking key failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	revoked, err := s.store.GetKey(r.Context(), key.PublicKey)
	if err != nil {
		s.logger.Error("reloading revoked key failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("revoked key", "key_prefix", keyPrefix(key.PublicKey))
	s.writeJSON(w, http.StatusOK, keyToResponse(revoked))
}

// handleCleanup runs one janitor pass and reports what it removed.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	stats := s.janitor.RunOnce(r.Context())
	s.logger.Info("manual cleanup completed",
		"expired_keys", stats.ExpiredKeys,
		"idle_sessions", stats.IdleSessions,
		"orphaned_users", stats.OrphanedUsers)
	s.writeJSON(w, http.StatusOK, stats)
}
