// Package http implements the transport interfaces over plain HTTP.
//
// Every request is a POST to /{shardId} with the serialized message as body,
// the response body is the serialized reply. Store level failures travel
// inside the reply with status 200, non-200 statuses mean the request never
// reached a shard (bad shard id, unreadable body).
//
// Key Components:
//
//   - httpClientTransport: round-robin over the configured endpoints with
//     retries. A retry goes to the next endpoint. Safe for concurrent use,
//     the round-robin counter is atomic.
//
//   - httpServerTransport: serves NewHandler on the configured endpoint.
//     Besides the shard routes, GET /metrics exposes the VictoriaMetrics
//     registry (overlay counters, rpc and http metrics) in the prometheus
//     text format.
package http
