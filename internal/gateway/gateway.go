// ABOUTME: Gateway orchestrator wiring store, auth, bridge, janitor, and HTTP server
// ABOUTME: Owns component lifecycle from startup through graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsender/keygate/internal/api"
	"github.com/chatsender/keygate/internal/auth"
	"github.com/chatsender/keygate/internal/bridge"
	"github.com/chatsender/keygate/internal/config"
	"github.com/chatsender/keygate/internal/store"
)

// Gateway owns the keygate server components: the key/session store, the
// challenge authority, the session bridge to Synapse, the janitor, and the
// HTTP server in front of them.
type Gateway struct {
	config     *config.Config
	store      store.Store
	synapse    *bridge.SynapseClient
	janitor    *bridge.Janitor
	httpServer *http.Server
	redis      *redis.Client
	logger     *slog.Logger
}

// initStore creates the sqlite store, honoring the KEYGATE_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("KEYGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initChallengeStore selects the challenge backend from config. Memory is
// the default; redis allows running more than one gateway instance.
func initChallengeStore(cfg *config.Config) (auth.ChallengeStore, *redis.Client, error) {
	switch cfg.Challenges.Store {
	case "", "memory":
		return auth.NewMemoryChallengeStore(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Challenges.RedisAddr})
		return auth.NewRedisChallengeStore(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown challenge store %q", cfg.Challenges.Store)
	}
}

// New assembles a gateway from config. Nothing starts running until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	challengeStore, redisClient, err := initChallengeStore(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	synapse, err := bridge.NewSynapseClient(cfg.Synapse.BaseURL, cfg.Synapse.ServerName,
		cfg.Synapse.AdminToken, cfg.Synapse.RequestTimeout)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating synapse client: %w", err)
	}

	tokens := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	authority := auth.NewAuthority(challengeStore, cfg.Auth.ChallengeTTL)
	authenticator := auth.NewAuthenticator(st, authority, tokens)

	br := bridge.NewBridge(st, synapse)
	janitor := bridge.NewJanitor(st, synapse, bridge.JanitorConfig{
		SessionIdleTimeout: cfg.Cleanup.SessionIdleTimeout,
		KeysInterval:       cfg.Cleanup.KeysInterval,
		SessionsInterval:   cfg.Cleanup.SessionsInterval,
		OrphansInterval:    cfg.Cleanup.OrphansInterval,
	})

	apiServer := api.NewServer(authenticator, br, st, janitor, synapse, tokens, api.Config{
		AdminToken: cfg.Auth.AdminToken,
		KeyExpiry:  cfg.Auth.KeyExpiry,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Gateway{
		config:     cfg,
		store:      st,
		synapse:    synapse,
		janitor:    janitor,
		httpServer: httpServer,
		redis:      redisClient,
		logger:     logger.With("component", "gateway"),
	}, nil
}

// Run starts the HTTP server and the janitor and blocks until ctx is
// cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go g.janitor.Run(janitorCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		g.logger.Error("http server failed", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops with a fresh context; the run context is already
// cancelled by the time this runs.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases store and redis resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutting down http server: %w", err)
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing redis client: %w", err)
		}
	}
	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	g.logger.Info("gateway stopped")
	return firstErr
}
