// ABOUTME: Package documentation for the HTTP API
// ABOUTME: JSON endpoints for auth, sessions, lookup, and key administration

// Package api exposes the gateway over HTTP+JSON. Authentication endpoints
// collapse every failure into one generic response; which keys exist and
// which step failed is visible only in the logs. Session endpoints require a
// bearer token minted by the authenticator; admin endpoints require the
// static admin token from config.
package api
