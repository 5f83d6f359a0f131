// Package api implements the HTTP REST API and WebSocket server for pcd-core.
//
// This package provides:
//   - Device endpoints: list, inspect, attach from an announcement body, detach
//   - Attribute endpoints: show and store of size and serial
//   - Session endpoints: open a device, then read, write, seek and close
//   - The lifecycle journal, filterable by type, number and name
//   - A WebSocket hub that streams driver events on "device.<event>" channels
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/metrics
//	GET    /api/v1/devices
//	POST   /api/v1/devices
//	GET    /api/v1/devices/stats
//	GET    /api/v1/devices/{number}
//	DELETE /api/v1/devices/{number}
//	GET    /api/v1/devices/{number}/attributes[/{attr}]
//	PUT    /api/v1/devices/{number}/attributes/{attr}
//	POST   /api/v1/devices/{number}/sessions
//	GET    /api/v1/sessions[/{handle}]
//	DELETE /api/v1/sessions/{handle}
//	POST   /api/v1/sessions/{handle}/read|write|seek
//	GET    /api/v1/audit
//	GET    /api/v1/ws
//
// Detaching a device closes the API sessions opened on it.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
