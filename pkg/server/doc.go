// Package server provides the WebSocket bridge between browser viewers and a
// running molecular simulation.
//
// # Architecture
//
// The server runtime consists of several key components:
//
//   - Server: chi router, WebSocket upgrade, TLS listener and graceful shutdown
//   - SessionManager: tracks live sessions and enforces the session limit
//   - Session: one client connection paired with one simulation handle
//   - Metrics: Prometheus collectors served on /metrics
//
// # Session Lifecycle
//
// Each WebSocket connection gets a fresh sim.Client from the configured
// sim.Connector. The session then runs two goroutines that share fate:
//
//   - streamFrames: waits for the first frame, sends the geometry message
//     once, then sends a positions message on every frame tick and a ping on
//     every heartbeat
//   - relayState: reads state change messages and applies them to the
//     simulation's multiplayer state
//
// When either goroutine stops, the other is cancelled, the connection is
// closed with a close frame describing the outcome, and the simulation
// handle is released.
//
// # Wire Format
//
// All messages are JSON text frames; see package protocol.
//
//	{"topology":{"elements":"...","bonds":"..."},"box":"..."}
//	{"positions":"..."}
//	{"updates":{"avatar.pose":[0,0,0]},"removals":[]}
//
// # Example Usage
//
//	srv := server.New(&server.ServerConfig{
//	    Address:  ":8443",
//	    TLS:      server.TLSConfig{CertFile: "localhost.pem", KeyFile: "localhost.key"},
//	}, connector)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// Only streamFrames writes data frames and only relayState reads, as
// gorilla/websocket requires. Pings and close frames go through
// WriteControl, which is safe alongside both.
package server
