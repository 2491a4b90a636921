// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the subject to context

package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware validates the bearer session token and attaches the subject
// public key to the request context. Every failure responds with the same
// generic body; the specific reason is only logged.
func Middleware(tokens *TokenIssuer) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Debug("rejected request", "path", r.URL.Path, "reason", errMsg)
				unauthorized(w)
				return
			}

			publicKey, err := tokens.Verify(token)
			if err != nil {
				logger.Info("rejected token", "path", r.URL.Path, "reason", err)
				unauthorized(w)
				return
			}

			authCtx := &AuthContext{PublicKey: publicKey}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// AdminMiddleware gates key-administration endpoints behind a static bearer
// token from config. Comparison is constant time.
func AdminMiddleware(adminToken string) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				logger.Warn("admin endpoint called but no admin token configured", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				logger.Info("rejected admin request", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}
