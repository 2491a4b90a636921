// ABOUTME: Synapse admin API client for provisioning ephemeral Matrix users
// ABOUTME: Wraps mautrix for user create/login/deactivate and reachability checks

package bridge

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"maunium.net/go/mautrix"
)

// ErrUpstreamUnavailable is returned when the homeserver or its admin API
// cannot be reached. It is the only retryable failure class in the bridge;
// callers may back off and retry, everything else is terminal.
var ErrUpstreamUnavailable = errors.New("messaging server unavailable")

// ProvisionedUser is a freshly created ephemeral Synapse account.
type ProvisionedUser struct {
	UserID      string // @localpart:server
	Username    string
	Password    string
	DisplayName string
}

// SynapseAPI is the slice of the homeserver admin surface the bridge and
// janitor need. Satisfied by SynapseClient; faked in tests.
type SynapseAPI interface {
	CreateTemporaryUser(ctx context.Context, publicKey, sessionID string) (*ProvisionedUser, error)
	LoginUser(ctx context.Context, userID, password string) (accessToken string, err error)
	DeactivateUser(ctx context.Context, userID string) error
	UserActive(ctx context.Context, userID string) (bool, error)
	ServerName() string
}

// SynapseClient implements SynapseAPI against a real homeserver.
type SynapseClient struct {
	client     *mautrix.Client
	serverName string
	logger     *slog.Logger
}

// NewSynapseClient creates a client for the homeserver's admin API. The
// admin token authenticates every privileged call; timeout bounds each
// request so a wedged homeserver cannot hold auth requests hostage.
func NewSynapseClient(baseURL, serverName, adminToken string, timeout time.Duration) (*SynapseClient, error) {
	client, err := mautrix.NewClient(baseURL, "", adminToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.Client.Timeout = timeout

	return &SynapseClient{
		client:     client,
		serverName: serverName,
		logger:     slog.Default().With("component", "synapse"),
	}, nil
}

// ServerName returns the homeserver's Matrix server name.
func (s *SynapseClient) ServerName() string {
	return s.serverName
}

// CreateTemporaryUser registers an ephemeral user whose localpart is derived
// from the public key and session so it is unique but reveals neither.
func (s *SynapseClient) CreateTemporaryUser(ctx context.Context, publicKey, sessionID string) (*ProvisionedUser, error) {
	username := temporaryUsername(publicKey, sessionID)
	userID := fmt.Sprintf("@%s:%s", username, s.serverName)

	password, err := randomPassword()
	if err != nil {
		return nil, err
	}
	displayName := "TempUser_" + username[:minInt(8, len(username))]

	body := struct {
		Password    string `json:"password"`
		DisplayName string `json:"displayname"`
		Admin       bool   `json:"admin"`
		Deactivated bool   `json:"deactivated"`
	}{
		Password:    password,
		DisplayName: displayName,
	}

	_, err = s.client.MakeFullRequest(ctx, mautrix.FullRequest{
		Method:      http.MethodPut,
		URL:         s.client.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		RequestJSON: &body,
	})
	if err != nil {
		return nil, upstreamError("creating temporary user", err)
	}

	s.logger.Info("provisioned temporary user", "user_id", userID)
	return &ProvisionedUser{
		UserID:      userID,
		Username:    username,
		Password:    password,
		DisplayName: displayName,
	}, nil
}

// LoginUser performs a password login for a provisioned user and returns the
// access token, so the client never has to hold the password.
func (s *SynapseClient) LoginUser(ctx context.Context, userID, password string) (string, error) {
	resp, err := s.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: userID,
		},
		Password: password,
	})
	if err != nil {
		return "", upstreamError("logging in temporary user", err)
	}
	return resp.AccessToken, nil
}

// DeactivateUser deactivates and erases an ephemeral user.
func (s *SynapseClient) DeactivateUser(ctx context.Context, userID string) error {
	body := struct {
		Deactivated bool `json:"deactivated"`
		Erase       bool `json:"erase"`
	}{
		Deactivated: true,
		Erase:       true,
	}

	_, err := s.client.MakeFullRequest(ctx, mautrix.FullRequest{
		Method:      http.MethodPut,
		URL:         s.client.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		RequestJSON: &body,
	})
	if err != nil {
		return upstreamError("deactivating user", err)
	}

	s.logger.Info("deactivated temporary user", "user_id", userID)
	return nil
}

// UserActive reports whether the user still exists and is not deactivated.
// A missing user is simply inactive, not an error.
func (s *SynapseClient) UserActive(ctx context.Context, userID string) (bool, error) {
	var resp struct {
		Deactivated bool `json:"deactivated"`
	}

	_, err := s.client.MakeFullRequest(ctx, mautrix.FullRequest{
		Method:       http.MethodGet,
		URL:          s.client.BuildURL(mautrix.SynapseAdminURLPath{"v2", "users", userID}),
		ResponseJSON: &resp,
	})
	if err != nil {
		var httpErr mautrix.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsStatus(http.StatusNotFound) {
			return false, nil
		}
		return false, upstreamError("querying user", err)
	}
	return !resp.Deactivated, nil
}

// Versions fetches the homeserver's supported spec versions, as a cheap
// reachability probe.
func (s *SynapseClient) Versions(ctx context.Context) ([]string, error) {
	resp, err := s.client.Versions(ctx)
	if err != nil {
		return nil, upstreamError("querying versions", err)
	}

	versions := make([]string, len(resp.Versions))
	for i, v := range resp.Versions {
		versions[i] = v.String()
	}
	return versions, nil
}

// upstreamError wraps transport-level failures as ErrUpstreamUnavailable and
// keeps protocol-level rejections as-is for the caller to inspect.
func upstreamError(op string, err error) error {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response == nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// temporaryUsername derives a unique, non-identifying localpart.
func temporaryUsername(publicKey, sessionID string) string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	sum := sha256.Sum256([]byte(publicKey + sessionID + ts))
	return "temp_" + hex.EncodeToString(sum[:])[:16]
}

// randomPassword returns a throwaway password for a provisioned user.
func randomPassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
