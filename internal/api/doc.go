// Package api implements the HTTP REST API and the bridge WebSocket for the
// fleet bridge.
//
// This package provides:
//   - The bridge endpoint: one broker session per WebSocket client
//   - REST endpoints for connection profiles and connectivity checks
//   - The fleet device registry and the device result-code table
//   - Read access to live sessions (history, device state, subscriptions)
//   - Service calls and live-stream / file-upload helpers over a session
//   - An audit trail of profile and registry changes and REST service calls
//   - Middleware stack (request ID, logging, recovery, CORS, bearer auth)
//
// # Architecture
//
// Browsers cannot speak MQTT over raw TCP, so each WebSocket client gets a
// bridge.Session that owns its own broker link. Client frames decode into
// bridge commands; session notifications are encoded back onto the socket.
// The REST surface reaches the same sessions through the bridge.Manager.
//
// # Security
//
// When security.jwt.secret is set, REST requests need an
// "Authorization: Bearer" token and the WebSocket needs a "token" query
// parameter. Roles gate what a caller may do; see package auth. With no
// secret every caller is treated as admin.
package api
