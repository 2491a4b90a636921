// ABOUTME: Configuration loading and parsing for keygate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete keygate configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Challenges ChallengesConfig `yaml:"challenges"`
	Synapse    SynapseConfig    `yaml:"synapse"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	AdminToken string `yaml:"admin_token"`

	ChallengeTTL time.Duration `yaml:"-"`
	TokenTTL     time.Duration `yaml:"-"`
	KeyExpiry    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ChallengeTTLRaw string `yaml:"challenge_ttl"`
	TokenTTLRaw     string `yaml:"token_ttl"`
	KeyExpiryRaw    string `yaml:"key_expiry"`
}

// ChallengesConfig selects where outstanding challenges live.
// "memory" is the default; "redis" allows multiple gateway instances.
type ChallengesConfig struct {
	Store     string `yaml:"store"`
	RedisAddr string `yaml:"redis_addr"`
}

// SynapseConfig holds the downstream Matrix homeserver configuration
type SynapseConfig struct {
	BaseURL    string `yaml:"base_url"`
	ServerName string `yaml:"server_name"`
	AdminToken string `yaml:"admin_token"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// CleanupConfig holds janitor timing configuration
type CleanupConfig struct {
	SessionIdleTimeout time.Duration `yaml:"-"`
	KeysInterval       time.Duration `yaml:"-"`
	SessionsInterval   time.Duration `yaml:"-"`
	OrphansInterval    time.Duration `yaml:"-"`

	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout"`
	KeysIntervalRaw       string `yaml:"keys_interval"`
	SessionsIntervalRaw   string `yaml:"sessions_interval"`
	OrphansIntervalRaw    string `yaml:"orphans_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Challenges.Store {
	case "", "memory":
	case "redis":
		if c.Challenges.RedisAddr == "" {
			return fmt.Errorf("challenges.redis_addr is required when challenges.store is redis")
		}
	default:
		return fmt.Errorf("challenges.store must be memory or redis, got %q", c.Challenges.Store)
	}

	if c.Synapse.BaseURL == "" {
		return fmt.Errorf("synapse.base_url is required")
	}
	if c.Synapse.ServerName == "" {
		return fmt.Errorf("synapse.server_name is required")
	}
	if c.Synapse.AdminToken == "" {
		return fmt.Errorf("synapse.admin_token is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Auth.ChallengeTTLRaw, "challenge_ttl", &cfg.Auth.ChallengeTTL},
		{cfg.Auth.TokenTTLRaw, "token_ttl", &cfg.Auth.TokenTTL},
		{cfg.Auth.KeyExpiryRaw, "key_expiry", &cfg.Auth.KeyExpiry},
		{cfg.Synapse.RequestTimeoutRaw, "request_timeout", &cfg.Synapse.RequestTimeout},
		{cfg.Cleanup.SessionIdleTimeoutRaw, "session_idle_timeout", &cfg.Cleanup.SessionIdleTimeout},
		{cfg.Cleanup.KeysIntervalRaw, "keys_interval", &cfg.Cleanup.KeysInterval},
		{cfg.Cleanup.SessionsIntervalRaw, "sessions_interval", &cfg.Cleanup.SessionsInterval},
		{cfg.Cleanup.OrphansIntervalRaw, "orphans_interval", &cfg.Cleanup.OrphansInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
