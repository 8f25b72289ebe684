// Package api provides the HTTP REST API and WebSocket stream for topicbridge.
//
// It exposes the object tree and state values, accepts state changes that the
// bridge publishes to the broker, and streams every store write to WebSocket
// clients subscribed to the "state.changed" channel. When metrics are enabled
// the Prometheus registry is served on the configured path.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
