// Package api serves the hub's Home Assistant compatible HTTP API.
//
// It provides:
//   - REST endpoints under /api for states, services, events, templates,
//     history and the automation and scene editors
//   - The /api/websocket command protocol with per-connection event
//     subscriptions
//   - Bearer token authentication (static tokens or HS256 JWTs)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support
//
// Webhooks, /api/health and /metrics are served without authentication.
package api
