// ABOUTME: Client agent holding the private key and driving the auth flow
// ABOUTME: Signs challenges locally; the key never leaves the process

package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chatsender/keygate/internal/crypto"
)

// DefaultIdleTimeout is how long a session stays authenticated without
// activity before the agent treats it as logged out.
const DefaultIdleTimeout = 5 * time.Minute

var (
	// ErrNotAuthenticated is returned when an operation needs a live session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnauthorized is returned when the gateway rejects the request. The
	// gateway's response never says why.
	ErrUnauthorized = errors.New("gateway rejected request")
)

// Session is the client-side view of an authenticated session: the bearer
// token, the downstream identity, and the activity clock that drives the
// idle timeout.
type Session struct {
	Token           string
	SessionID       string
	MatrixUserID    string
	Alias           string
	AccessToken     string
	ServerName      string
	AuthenticatedAt time.Time
	LastActivity    time.Time
}

// Client authenticates against the gateway with a local ed25519 private key.
// The key is held only in this process; challenges are signed here and only
// the signature travels.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu         sync.Mutex
	privateKey ed25519.PrivateKey
	publicKey  string
	session    *Session
}

// Option configures a Client.
type Option func(*Client)

// WithIdleTimeout overrides the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client agent for the gateway at baseURL. privateKey may be
// the 32-byte seed or the 64-byte expanded form.
func New(baseURL string, privateKey []byte, opts ...Option) (*Client, error) {
	key, err := crypto.NormalizePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		logger:      slog.Default().With("component", "client"),
		privateKey:  key,
		publicKey:   crypto.EncodeKey(key.Public().(ed25519.PublicKey)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PublicKey returns the base64 public key this agent authenticates as.
func (c *Client) PublicKey() string {
	return c.publicKey
}

// Authenticate runs the challenge-response flow and stores the resulting
// bearer token in a fresh session.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	key := c.privateKey
	c.mu.Unlock()
	if key == nil {
		return ErrNotAuthenticated
	}

	var challengeResp struct {
		Challenge string `json:"challenge"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/challenge", "",
		map[string]string{"public_key": c.publicKey}, &challengeResp)
	if err != nil {
		return fmt.Errorf("requesting challenge: %w", err)
	}

	// The signature covers the challenge text exactly as received.
	sig := ed25519.Sign(key, []byte(challengeResp.Challenge))

	var verifyResp struct {
		Token string `json:"token"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/auth/verify", "",
		map[string]string{
			"public_key": c.publicKey,
			"signature":  crypto.EncodeKey(sig),
		}, &verifyResp)
	if err != nil {
		return fmt.Errorf("verifying challenge: %w", err)
	}

	now := c.now()
	c.mu.Lock()
	c.session = &Session{
		Token:           verifyResp.Token,
		AuthenticatedAt: now,
		LastActivity:    now,
	}
	c.mu.Unlock()

	c.logger.Info("authenticated", "key_prefix", c.publicKey[:8])
	return nil
}

// IsAuthenticated reports whether the agent holds a session that has not
// gone idle. Idle expiry is a local logout: the token and the private key
// material are both purged, and the client is unusable afterwards.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return false
	}
	if c.now().Sub(c.session.LastActivity) > c.idleTimeout {
		c.logger.Info("session idle, purging local material")
		c.purgeLocked()
		return false
	}
	return true
}

// purgeLocked drops the session and zeroes the private key. Caller holds mu.
func (c *Client) purgeLocked() {
	c.session = nil
	for i := range c.privateKey {
		c.privateKey[i] = 0
	}
	c.privateKey = nil
}

// StartSession asks the gateway for chat credentials, provisioning or
// reusing the downstream identity.
func (c *Client) StartSession(ctx context.Context) (*Session, error) {
	token, err := c.activeToken()
	if err != nil {
		return nil, err
	}

	var resp struct {
		SessionID    string `json:"session_id"`
		MatrixUserID string `json:"matrix_user_id"`
		Alias        string `json:"alias"`
		AccessToken  string `json:"access_token"`
		ServerName   string `json:"server_name"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/session/start", token, nil, &resp); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Token != token {
		return nil, ErrNotAuthenticated
	}
	c.session.SessionID = resp.SessionID
	c.session.MatrixUserID = resp.MatrixUserID
	c.session.Alias = resp.Alias
	c.session.AccessToken = resp.AccessToken
	c.session.ServerName = resp.ServerName
	c.session.LastActivity = c.now()

	snapshot := *c.session
	return &snapshot, nil
}

// Lookup resolves an active user by alias, public key, or Matrix user ID.
// Returns ok=false when nothing matches.
func (c *Client) Lookup(ctx context.Context, query string) (alias, matrixUserID string, ok bool, err error) {
	var resp struct {
		Found        bool   `json:"found"`
		Alias        string `json:"alias"`
		MatrixUserID string `json:"matrix_user_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/users/lookup", "",
		map[string]string{"query": query}, &resp); err != nil {
		return "", "", false, fmt.Errorf("looking up user: %w", err)
	}
	c.touch()
	return resp.Alias, resp.MatrixUserID, resp.Found, nil
}

// Logout ends the session at the gateway and purges all local secret
// material, token and private key both. The client is unusable afterwards.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil && session.SessionID != "" {
		err := c.doJSON(ctx, http.MethodPost, "/session/end", session.Token,
			map[string]string{"session_id": session.SessionID}, nil)
		if err != nil {
			// Local purge proceeds regardless; the janitor cleans up
			// whatever the gateway did not hear about.
			c.logger.Warn("remote session end failed", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()

	c.logger.Info("logged out, key material purged")
	return nil
}

// activeToken returns the bearer token if the session is live, enforcing the
// idle timeout on the way.
func (c *Client) activeToken() (string, error) {
	if !c.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", ErrNotAuthenticated
	}
	return c.session.Token, nil
}

// touch bumps the activity clock if a session is present.
func (c *Client) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.LastActivity = c.now()
	}
}

// doJSON performs one JSON request. A 401 maps to ErrUnauthorized; other
// non-2xx statuses surface the gateway's error message.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&gwErr) == nil && gwErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, gwErr.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
