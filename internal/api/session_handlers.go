// ABOUTME: Session bridge and user lookup endpoints
// ABOUTME: Start/info/end for ephemeral chat sessions plus directory lookup

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/chatsender/keygate/internal/auth"
	"github.com/chatsender/keygate/internal/bridge"
	"github.com/chatsender/keygate/internal/store"
)

// sessionResponse is the wire shape for session credentials.
type sessionResponse struct {
	SessionID    string `json:"session_id"`
	MatrixUserID string `json:"matrix_user_id"`
	Alias        string `json:"alias"`
	AccessToken  string `json:"access_token,omitempty"`
	ServerName   string `json:"server_name"`
	Reused       bool   `json:"reused"`
}

// handleSessionStart provisions or reuses a chat session for the caller's key.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	publicKey := auth.MustFromContext(r.Context()).PublicKey

	creds, err := s.bridge.StartSession(r.Context(), publicKey)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrKeyRevoked):
			// The token outlived its key.
			s.logger.Info("session start rejected, key no longer usable")
			s.writeUnauthorized(w)
		case errors.Is(err, bridge.ErrUpstreamUnavailable):
			s.writeError(w, http.StatusServiceUnavailable, "messaging server unavailable")
		default:
			s.logger.Error("session start failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:    creds.SessionID,
		MatrixUserID: creds.MatrixUserID,
		Alias:        creds.Alias,
		AccessToken:  creds.AccessToken,
		ServerName:   creds.ServerName,
		Reused:       creds.Reused,
	})
}

// handleSessionInfo returns the caller's active session and bumps its
// activity timestamp.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	publicKey := auth.MustFromContext(r.Context()).PublicKey

	sess, err := s.bridge.SessionInfo(r.Context(), publicKey)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "no active session")
			return
		}
		s.logger.Error("session info failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"matrix_user_id": sess.MatrixUserID,
		"alias":          sess.Alias,
		"created_at":     sess.CreatedAt.UTC().Format(time.RFC3339),
		"last_activity":  sess.LastActivity.UTC().Format(time.RFC3339),
	})
}

// handleSessionEnd tears down the caller's session. Always succeeds from the
// client's point of view so logout can never get stuck.
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	publicKey := auth.MustFromContext(r.Context()).PublicKey

	var req struct {
		SessionID string `json:"session_id"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := s.bridge.EndSession(r.Context(), publicKey, req.SessionID); err != nil {
		s.logger.Error("session end failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

// handleUserLookup resolves an active session by alias, public key, or
// Matrix user ID. A miss is a normal answer, not an error.
func (s *Server) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	sess, err := s.bridge.Lookup(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			s.writeJSON(w, http.StatusOK, map[string]bool{"found": false})
			return
		}
		s.logger.Error("lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"found":          true,
		"alias":          sess.Alias,
		"matrix_user_id": sess.MatrixUserID,
	})
}
