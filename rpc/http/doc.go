// Package http exposes the node's public contract: /v0/entity and
// /v0/status, dispatching either to the local engine (for internal
// replica hops) or to the replication coordinator (for external client
// requests).
//
// Routing uses a plain net/http.ServeMux with Go 1.22 method-aware
// patterns, with an optional request-logging middleware gated by debug
// log level.
package http
