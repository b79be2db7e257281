// Package api implements the HTTP API and live-state WebSocket for railhub.
//
// This package provides:
//   - GET /api/v1/health: component health
//   - GET /api/v1/state: the full state snapshot
//   - GET /api/v1/state/ws: live state stream and layout control commands
//   - GET /api/v1/system: runtime statistics
//   - GET /metrics: Prometheus metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Optional HS256 JWT authentication
//
// # Architecture
//
// The server sits between control panels and the state store. Each
// WebSocket client registers as a store listener: it receives the full
// snapshot on connect and one message per change afterwards. Control
// messages from the client are translated into command payloads and
// published to the record's command topic on the bus.
//
// # Security
//
// When security.jwt.secret is set, every route except health and
// Prometheus metrics requires a bearer token signed with that secret.
// Browsers cannot set headers on WebSocket upgrades, so the state socket
// also accepts the token as a ?token= query parameter.
//
// # Graceful Degradation
//
// The server operates without a bus publisher. Reads and the live feed
// work, only control commands fail.
package api
