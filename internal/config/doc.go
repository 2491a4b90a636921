// ABOUTME: Package documentation for keygate configuration
// ABOUTME: YAML config with environment expansion for secrets

// Package config loads the keygate YAML configuration. Secrets (JWT secret,
// Synapse admin token) are normally injected via ${VAR} environment
// expansion rather than written into the file.
package config
