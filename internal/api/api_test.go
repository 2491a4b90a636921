// ABOUTME: End-to-end HTTP tests for the gateway API
// ABOUTME: Drives the full auth and session flow over httptest with a fake homeserver

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsender/keygate/internal/auth"
	"github.com/chatsender/keygate/internal/bridge"
	"github.com/chatsender/keygate/internal/crypto"
	"github.com/chatsender/keygate/internal/store"
)

const testAdminToken = "admin-secret"

// fakeSynapse implements bridge.SynapseAPI and VersionProber in memory.
type fakeSynapse struct {
	mu      sync.Mutex
	users   map[string]bool
	created int
	down    bool
}

func newFakeSynapse() *fakeSynapse {
	return &fakeSynapse{users: make(map[string]bool)}
}

func (f *fakeSynapse) CreateTemporaryUser(_ context.Context, _, sessionID string) (*bridge.ProvisionedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("dialing homeserver: %w", bridge.ErrUpstreamUnavailable)
	}
	f.created++
	userID := fmt.Sprintf("@temp_%d:fed.local", f.created)
	f.users[userID] = true
	return &bridge.ProvisionedUser{UserID: userID, Password: "pw-" + sessionID}, nil
}

func (f *fakeSynapse) LoginUser(_ context.Context, userID, _ string) (string, error) {
	return "syt_" + userID, nil
}

func (f *fakeSynapse) DeactivateUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = false
	return nil
}

func (f *fakeSynapse) UserActive(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeSynapse) ServerName() string { return "fed.local" }

func (f *fakeSynapse) Versions(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("dialing homeserver: %w", bridge.ErrUpstreamUnavailable)
	}
	return []string{"v1.11"}, nil
}

type testEnv struct {
	server  *httptest.Server
	store   store.Store
	synapse *fakeSynapse
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "keygate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	synapse := newFakeSynapse()
	tokens := auth.NewTokenIssuer([]byte("test-jwt-secret"), 30*time.Minute)
	authority := auth.NewAuthority(auth.NewMemoryChallengeStore(), 2*time.Minute)
	authenticator := auth.NewAuthenticator(st, authority, tokens)
	br := bridge.NewBridge(st, synapse)
	janitor := bridge.NewJanitor(st, synapse, bridge.JanitorConfig{})

	srv := NewServer(authenticator, br, st, janitor, synapse, tokens, Config{
		AdminToken: testAdminToken,
		KeyExpiry:  7 * 24 * time.Hour,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, synapse: synapse}
}

// doJSON performs a request and decodes the JSON response body.
func (e *testEnv) doJSON(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reqBody)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// generateKey registers one key via the admin API and returns the pair.
func (e *testEnv) generateKey(t *testing.T) (publicKey, privateKey string) {
	t.Helper()
	status, body := e.doJSON(t, http.MethodPost, "/admin/keys/generate", testAdminToken,
		map[string]int{"count": 1})
	require.Equal(t, http.StatusOK, status)

	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	key := keys[0].(map[string]any)
	return key["public_key"].(string), key["private_key"].(string)
}

// authenticate runs the full challenge-response flow and returns a token.
func (e *testEnv) authenticate(t *testing.T, publicKey, privateKey string) string {
	t.Helper()

	status, body := e.doJSON(t, http.MethodPost, "/auth/challenge", "",
		map[string]string{"public_key": publicKey})
	require.Equal(t, http.StatusOK, status)
	challenge := body["challenge"].(string)

	sig := signChallenge(t, challenge, privateKey)
	status, body = e.doJSON(t, http.MethodPost, "/auth/verify", "",
		map[string]string{"public_key": publicKey, "signature": sig})
	require.Equal(t, http.StatusOK, status)
	return body["token"].(string)
}

func signChallenge(t *testing.T, challenge, privateKeyB64 string) string {
	t.Helper()
	priv, err := base64.StdEncoding.DecodeString(privateKeyB64)
	require.NoError(t, err)
	sig, err := crypto.Sign([]byte(challenge), priv)
	require.NoError(t, err)
	return crypto.EncodeKey(sig)
}

func TestAPI_FullAuthFlow(t *testing.T) {
	env := setupServer(t)
	pub, priv := env.generateKey(t)

	token := env.authenticate(t, pub, priv)
	require.NotEmpty(t, token)

	status, body := env.doJSON(t, http.MethodPost, "/session/start", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["session_id"])
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "fed.local", body["server_name"])
	assert.Equal(t, false, body["reused"])

	status, info := env.doJSON(t, http.MethodGet, "/session/info", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, body["session_id"], info["session_id"])

	status, lookup := env.doJSON(t, http.MethodPost, "/users/lookup", "",
		map[string]string{"query": body["alias"].(string)})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, lookup["found"])
	assert.Equal(t, body["matrix_user_id"], lookup["matrix_user_id"])

	status, ended := env.doJSON(t, http.MethodPost, "/session/end", token,
		map[string]string{"session_id": body["session_id"].(string)})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, ended["ended"])

	status, lookup = env.doJSON(t, http.MethodPost, "/users/lookup", "",
		map[string]string{"query": pub})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, lookup["found"])
}

func TestAPI_ChallengeUnknownKeyIsGeneric(t *testing.T) {
	env := setupServer(t)
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	status, body := env.doJSON(t, http.MethodPost, "/auth/challenge", "",
		map[string]string{"public_key": crypto.EncodeKey(pub)})

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, body)
}

func TestAPI_VerifyFailuresAreIndistinguishable(t *testing.T) {
	env := setupServer(t)
	pub, priv := env.generateKey(t)

	// Challenge issued, then signed with the wrong key.
	status, body := env.doJSON(t, http.MethodPost, "/auth/challenge", "",
		map[string]string{"public_key": pub})
	require.Equal(t, http.StatusOK, status)
	challenge := body["challenge"].(string)

	_, otherPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	badSig, err := crypto.Sign([]byte(challenge), otherPriv)
	require.NoError(t, err)

	status, wrongSig := env.doJSON(t, http.MethodPost, "/auth/verify", "",
		map[string]string{"public_key": pub, "signature": crypto.EncodeKey(badSig)})

	// Same key, no outstanding challenge (after a successful consume).
	token := env.authenticate(t, pub, priv)
	require.NotEmpty(t, token)
	sig := signChallenge(t, challenge, priv)
	status2, noChallenge := env.doJSON(t, http.MethodPost, "/auth/verify", "",
		map[string]string{"public_key": pub, "signature": sig})

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, http.StatusUnauthorized, status2)
	assert.Equal(t, wrongSig, noChallenge, "failure responses must not reveal the reason")
}

func TestAPI_SessionRequiresToken(t *testing.T) {
	env := setupServer(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/session/start"},
		{http.MethodGet, "/session/info"},
		{http.MethodPost, "/session/end"},
	} {
		status, body := env.doJSON(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", tc.method, tc.path)
		assert.Equal(t, "unauthorized", body["error"])
	}

	status, _ := env.doJSON(t, http.MethodPost, "/session/start", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_SessionStartAfterRevocation(t *testing.T) {
	env := setupServer(t)
	pub, priv := env.generateKey(t)
	token := env.authenticate(t, pub, priv)

	status, _ := env.doJSON(t, http.MethodPost, "/admin/keys/revoke", testAdminToken,
		map[string]string{"prefix": pub[:16]})
	require.Equal(t, http.StatusOK, status)

	// The token is still cryptographically valid, but the bridge re-checks
	// the key before provisioning.
	status, body := env.doJSON(t, http.MethodPost, "/session/start", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestAPI_SessionStartUpstreamDown(t *testing.T) {
	env := setupServer(t)
	pub, priv := env.generateKey(t)
	token := env.authenticate(t, pub, priv)

	env.synapse.down = true
	status, body := env.doJSON(t, http.MethodPost, "/session/start", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "messaging server unavailable", body["error"])
}

func TestAPI_AdminKeyLifecycle(t *testing.T) {
	env := setupServer(t)
	pub, _ := env.generateKey(t)

	status, body := env.doJSON(t, http.MethodGet, "/admin/keys", testAdminToken, nil)
	require.Equal(t, http.StatusOK, status)
	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	listed := keys[0].(map[string]any)
	assert.Equal(t, pub, listed["public_key"])
	assert.Equal(t, "active", listed["status"])
	assert.Empty(t, listed["private_key"], "listing must never expose private material")

	status, revoked := env.doJSON(t, http.MethodPost, "/admin/keys/revoke", testAdminToken,
		map[string]string{"prefix": pub[:16]})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "revoked", revoked["status"])
	assert.NotEmpty(t, revoked["revoked_at"])

	// Second revoke conflicts, unknown prefix is 404.
	status, _ = env.doJSON(t, http.MethodPost, "/admin/keys/revoke", testAdminToken,
		map[string]string{"prefix": pub[:16]})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.doJSON(t, http.MethodPost, "/admin/keys/revoke", testAdminToken,
		map[string]string{"prefix": "zzzzzzzz"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_AdminImport(t *testing.T) {
	env := setupServer(t)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	encoded := crypto.EncodeKey(pub)

	status, body := env.doJSON(t, http.MethodPost, "/admin/keys/import", testAdminToken,
		map[string]string{"public_key": encoded})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, encoded, body["public_key"])

	status, _ = env.doJSON(t, http.MethodPost, "/admin/keys/import", testAdminToken,
		map[string]string{"public_key": encoded})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.doJSON(t, http.MethodPost, "/admin/keys/import", testAdminToken,
		map[string]string{"public_key": "not base64!!"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_AdminRequiresToken(t *testing.T) {
	env := setupServer(t)

	status, body := env.doJSON(t, http.MethodGet, "/admin/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = env.doJSON(t, http.MethodGet, "/admin/keys", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_AdminCleanup(t *testing.T) {
	env := setupServer(t)

	// An already-expired key for the janitor to remove.
	now := time.Now()
	require.NoError(t, env.store.CreateKey(context.Background(), &store.AuthorizedKey{
		PublicKey: "stale-key",
		Status:    store.KeyStatusActive,
		CreatedAt: now.Add(-8 * 24 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))

	status, body := env.doJSON(t, http.MethodPost, "/admin/cleanup", testAdminToken,
		map[string]any{})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["expired_keys"])
}

func TestAPI_Health(t *testing.T) {
	env := setupServer(t)

	status, body := env.doJSON(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "keygate", body["service"])

	status, body = env.doJSON(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = env.doJSON(t, http.MethodGet, "/synapse/version", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["versions"], "v1.11")

	env.synapse.down = true
	status, _ = env.doJSON(t, http.MethodGet, "/synapse/version", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
