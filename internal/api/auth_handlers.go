// ABOUTME: Challenge-response authentication endpoints
// ABOUTME: Issues challenges and exchanges signatures for bearer session tokens

package api

import (
	"net/http"
)

// handleChallenge issues a signing challenge for a registered key.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
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

	challenge, err := s.authenticator.RequestChallenge(r.Context(), req.PublicKey)
	if err != nil {
		if isAuthFailure(err) {
			s.logger.Info("challenge request rejected", "reason", err)
			s.writeUnauthorized(w)
			return
		}
		s.logger.Error("challenge issuance failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

// handleVerify exchanges a signature over the outstanding challenge for a
// bearer session token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"public_key"`
		Signature string `json:"signature"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PublicKey == "" || req.Signature == "" {
		s.writeError(w, http.StatusBadRequest, "public_key and signature are required")
		return
	}

	token, err := s.authenticator.VerifyChallenge(r.Context(), req.PublicKey, req.Signature)
	if err != nil {
		if isAuthFailure(err) {
			s.logger.Info("verification rejected", "reason", err)
			s.writeUnauthorized(w)
			return
		}
		s.logger.Error("verification failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"token_type": "Bearer",
	})
}
