// ABOUTME: Background cleanup of expired keys, idle sessions, and orphaned users
// ABOUTME: Runs on independent tickers and exposes a one-shot pass for the admin API

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chatsender/keygate/internal/store"
)

// Default janitor timing, overridable from config.
const (
	DefaultSessionIdleTimeout = time.Hour
	DefaultKeysInterval       = time.Hour
	DefaultSessionsInterval   = 10 * time.Minute
	DefaultOrphansInterval    = 30 * time.Minute
)

// CleanupStats reports what a cleanup pass removed.
type CleanupStats struct {
	ExpiredKeys    int `json:"expired_keys"`
	IdleSessions   int `json:"idle_sessions"`
	OrphanedUsers  int `json:"orphaned_users"`
	DownstreamErrs int `json:"downstream_errors"`
}

// JanitorConfig holds janitor timing.
type JanitorConfig struct {
	SessionIdleTimeout time.Duration
	KeysInterval       time.Duration
	SessionsInterval   time.Duration
	OrphansInterval    time.Duration
}

func (c *JanitorConfig) applyDefaults() {
	if c.SessionIdleTimeout <= 0 {
		c.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if c.KeysInterval <= 0 {
		c.KeysInterval = DefaultKeysInterval
	}
	if c.SessionsInterval <= 0 {
		c.SessionsInterval = DefaultSessionsInterval
	}
	if c.OrphansInterval <= 0 {
		c.OrphansInterval = DefaultOrphansInterval
	}
}

// Janitor removes state that outlived its purpose: keys past expiry,
// sessions idle past the timeout, and ended sessions whose Matrix users
// still exist downstream.
type Janitor struct {
	store   store.Store
	synapse SynapseAPI
	cfg     JanitorConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewJanitor creates a janitor. Zero-valued config fields get defaults.
func NewJanitor(st store.Store, synapse SynapseAPI, cfg JanitorConfig) *Janitor {
	cfg.applyDefaults()
	return &Janitor{
		store:   st,
		synapse: synapse,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "janitor"),
	}
}

// Run executes the cleanup loops until ctx is cancelled. Each concern ticks
// on its own interval so a slow homeserver cannot delay key expiry.
func (j *Janitor) Run(ctx context.Context) {
	keys := time.NewTicker(j.cfg.KeysInterval)
	sessions := time.NewTicker(j.cfg.SessionsInterval)
	orphans := time.NewTicker(j.cfg.OrphansInterval)
	defer keys.Stop()
	defer sessions.Stop()
	defer orphans.Stop()

	j.logger.Info("janitor started",
		"keys_interval", j.cfg.KeysInterval,
		"sessions_interval", j.cfg.SessionsInterval,
		"orphans_interval", j.cfg.OrphansInterval,
		"session_idle_timeout", j.cfg.SessionIdleTimeout)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-keys.C:
			var stats CleanupStats
			j.cleanupExpiredKeys(ctx, &stats)
		case <-sessions.C:
			var stats CleanupStats
			j.cleanupIdleSessions(ctx, &stats)
		case <-orphans.C:
			var stats CleanupStats
			j.reapOrphanedUsers(ctx, &stats)
		}
	}
}

// RunOnce runs all three cleanup tasks immediately and returns the stats.
// Backs the admin cleanup endpoint.
func (j *Janitor) RunOnce(ctx context.Context) CleanupStats {
	var stats CleanupStats
	j.cleanupExpiredKeys(ctx, &stats)
	j.cleanupIdleSessions(ctx, &stats)
	j.reapOrphanedUsers(ctx, &stats)
	return stats
}

func (j *Janitor) cleanupExpiredKeys(ctx context.Context, stats *CleanupStats) {
	n, err := j.store.DeleteExpiredKeys(ctx, j.now())
	if err != nil {
		j.logger.Error("failed to delete expired keys", "error", err)
		return
	}
	stats.ExpiredKeys += n
	if n > 0 {
		j.logger.Info("removed expired keys", "count", n)
	}
}

func (j *Janitor) cleanupIdleSessions(ctx context.Context, stats *CleanupStats) {
	cutoff := j.now().Add(-j.cfg.SessionIdleTimeout)
	idle, err := j.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to list idle sessions", "error", err)
		return
	}

	for _, sess := range idle {
		if err := j.synapse.DeactivateUser(ctx, sess.MatrixUserID); err != nil {
			stats.DownstreamErrs++
			j.logger.Warn("failed to deactivate idle session user",
				"session_id", sess.ID, "user_id", sess.MatrixUserID, "error", err)
			continue
		}
		if err := j.store.EndSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			j.logger.Error("failed to end idle session", "session_id", sess.ID, "error", err)
			continue
		}
		stats.IdleSessions++
		j.logger.Info("ended idle session", "session_id", sess.ID, "alias", sess.Alias,
			"idle_since", sess.LastActivity)
	}
}

// reapOrphanedUsers finds ended sessions whose Matrix users were never
// deactivated, deactivates them, and drops the session record once the
// downstream side is clean.
func (j *Janitor) reapOrphanedUsers(ctx context.Context, stats *CleanupStats) {
	ended, err := j.store.ListEndedSessions(ctx)
	if err != nil {
		j.logger.Error("failed to list ended sessions", "error", err)
		return
	}

	for _, sess := range ended {
		active, err := j.synapse.UserActive(ctx, sess.MatrixUserID)
		if err != nil {
			stats.DownstreamErrs++
			j.logger.Warn("failed to query downstream user",
				"user_id", sess.MatrixUserID, "error", err)
			continue
		}
		if active {
			if err := j.synapse.DeactivateUser(ctx, sess.MatrixUserID); err != nil {
				stats.DownstreamErrs++
				j.logger.Warn("failed to deactivate orphaned user",
					"user_id", sess.MatrixUserID, "error", err)
				continue
			}
			stats.OrphanedUsers++
			j.logger.Info("deactivated orphaned user", "user_id", sess.MatrixUserID)
		}
		if err := j.store.DeleteSession(ctx, sess.ID); err != nil {
			j.logger.Error("failed to delete ended session", "session_id", sess.ID, "error", err)
		}
	}
}
