// ABOUTME: Package documentation for the session bridge
// ABOUTME: Maps authorized keys to ephemeral Matrix users on a Synapse homeserver

// Package bridge connects authenticated keys to the chat backend. For each
// key it provisions at most one ephemeral Matrix user via the Synapse admin
// API, hands the client that user's access token, and tears the user down
// when the session ends or goes idle. The janitor sweeps up anything that
// slipped through: expired keys, idle sessions, and downstream users that
// outlived their session record.
package bridge
