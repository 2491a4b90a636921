// ABOUTME: HTTP API server wiring for the keygate gateway
// ABOUTME: Routes, JSON helpers, and the shared error-to-status mapping

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatsender/keygate/internal/auth"
	"github.com/chatsender/keygate/internal/bridge"
	"github.com/chatsender/keygate/internal/store"
)

// maxBodySize caps request bodies; every request here is a small JSON object.
const maxBodySize = 64 * 1024

// VersionProber reports the downstream homeserver's supported versions.
// Satisfied by bridge.SynapseClient.
type VersionProber interface {
	Versions(ctx context.Context) ([]string, error)
}

// Config holds the API server's non-service parameters.
type Config struct {
	AdminToken string
	KeyExpiry  time.Duration
}

// Server exposes the gateway over HTTP+JSON: the challenge-response auth
// endpoints, the session bridge, and the admin key-management surface.
type Server struct {
	authenticator *auth.Authenticator
	bridge        *bridge.Bridge
	store         store.Store
	janitor       *bridge.Janitor
	probe         VersionProber
	tokens        *auth.TokenIssuer
	cfg           Config
	now           func() time.Time
	logger        *slog.Logger
}

// NewServer assembles the HTTP API over the given services.
func NewServer(authenticator *auth.Authenticator, br *bridge.Bridge, st store.Store,
	janitor *bridge.Janitor, probe VersionProber, tokens *auth.TokenIssuer, cfg Config) *Server {
	if cfg.KeyExpiry <= 0 {
		cfg.KeyExpiry = 7 * 24 * time.Hour
	}
	return &Server{
		authenticator: authenticator,
		bridge:        br,
		store:         st,
		janitor:       janitor,
		probe:         probe,
		tokens:        tokens,
		cfg:           cfg,
		now:           time.Now,
		logger:        slog.Default().With("component", "api"),
	}
}

// Handler returns the fully routed handler for the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all gateway routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := auth.Middleware(s.tokens)
	requireAdmin := auth.AdminMiddleware(s.cfg.AdminToken)

	// Liveness and downstream probes
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /synapse/version", s.handleSynapseVersion)

	// Challenge-response authentication
	mux.HandleFunc("POST /auth/challenge", s.handleChallenge)
	mux.HandleFunc("POST /auth/verify", s.handleVerify)

	// Session bridge (bearer token required)
	mux.Handle("POST /session/start", requireAuth(http.HandlerFunc(s.handleSessionStart)))
	mux.Handle("GET /session/info", requireAuth(http.HandlerFunc(s.handleSessionInfo)))
	mux.Handle("POST /session/end", requireAuth(http.HandlerFunc(s.handleSessionEnd)))

	// Directory
	mux.HandleFunc("POST /users/lookup", s.handleUserLookup)

	// Key administration (static admin token)
	mux.Handle("POST /admin/keys/generate", requireAdmin(http.HandlerFunc(s.handleKeysGenerate)))
	mux.Handle("POST /admin/keys/import", requireAdmin(http.HandlerFunc(s.handleKeysImport)))
	mux.Handle("GET /admin/keys", requireAdmin(http.HandlerFunc(s.handleKeysList)))
	mux.Handle("POST /admin/keys/revoke", requireAdmin(http.HandlerFunc(s.handleKeysRevoke)))
	mux.Handle("POST /admin/cleanup", requireAdmin(http.HandlerFunc(s.handleCleanup)))
}

// writeJSON writes v as the JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error body with the given status.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeUnauthorized is the single response body for every authentication
// failure. The specific reason is logged, never returned, so callers cannot
// probe which keys exist or which step failed.
func (s *Server) writeUnauthorized(w http.ResponseWriter) {
	s.writeError(w, http.StatusUnauthorized, "unauthorized")
}

// decodeJSON decodes the request body into v, rejecting unknown fields and
// oversized bodies.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// isAuthFailure reports whether err is one of the challenge-response failure
// modes that must collapse into the generic unauthorized response.
func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrUnauthorizedKey) ||
		errors.Is(err, auth.ErrNoOutstandingChallenge) ||
		errors.Is(err, auth.ErrChallengeExpired) ||
		errors.Is(err, auth.ErrSignatureMismatch)
}
