// Package server implements the connection orchestrator: a TCP listener that
// admits players, relays encrypted bid shares between them, keeps the
// authoritative round state and broadcasts round transitions.
//
// Each connection gets a reader goroutine and a writer goroutine; all game
// decisions run under one orchestrator lock so a bid arrival, a disconnect
// and a round close are observed in a single order. The server holds its own
// keypair and takes part in the bid exchange under the reserved id "server":
// every bid carries a server-addressed share, which is how the orchestrator
// learns verified bid values without ever seeing a plaintext bid on the wire.
package server
