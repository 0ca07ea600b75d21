// Package api provides the local operations HTTP API for a hublink agent.
//
// It exposes health, connection status, the delivery ledger and the
// Prometheus registry to operators on the device, plus a WebSocket event
// stream of delivery and connection events.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	hub := api.NewHub(cfg.API.WebSocket, logger)   // register as a transport.Observer
//	server, err := api.New(api.Deps{Hub: hub, ...})
//	err = server.Run(ctx)                          // blocks until ctx ends
//
// Routes:
//
//	GET /health
//	GET /metrics                     (when metrics are enabled)
//	GET /api/v1/status
//	GET /api/v1/deliveries           ?status= &since= &limit=
//	GET /api/v1/deliveries/stats
//	GET /api/v1/deliveries/{id}
//	GET /api/v1/connection/events    ?limit=
//	GET /api/v1/ws                   WebSocket event stream
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
