// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Component wiring and lifecycle for the keygate server

// Package gateway is the central coordinator of the keygate server. It owns
// the sqlite store, the challenge store (memory or redis), the session
// bridge to the Synapse homeserver, the cleanup janitor, and the HTTP server
// exposing the API.
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is cancelled, then shuts the server down
// gracefully and closes the store.
package gateway
