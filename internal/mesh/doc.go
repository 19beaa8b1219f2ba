// Package mesh is the WebSocket distribution port.
//
// A Mesh is both a server and a client: it listens on the coordination
// port for peers that dial in, and it dials every configured or
// discovered peer itself. Operations travel as JSON frames over
// WebSocket text messages in both directions.
//
// ARCHITECTURE:
//
// Hub:
// One goroutine owns the set of connected peers. Register, unregister,
// and broadcast are channel sends into that goroutine, so the peer map
// needs no lock. Each peer gets a buffered send channel with a write
// pump; a peer that cannot keep up is dropped, never blocked on.
//
// Inbound path:
// Every connection's read pump decodes frames, drops invalid or echoed
// ones, and appends the rest to the inbound queue. DrainPending swaps
// the queued slice out under a mutex and returns immediately; the
// caller releases the batch when done and the buffer goes back to a
// pool.
//
// Outbound path:
// Distribute encodes and broadcasts one operation. With no peers
// connected the operation is parked in a bounded outbox; SyncState
// reflushes the outbox and sends a state frame announcing the local
// log head, which prompts peers to reply with anything newer.
//
// Discovery:
// Peers come from the static config list and, when enabled, from mDNS
// (service _tandem._tcp, one entry per instance id). Each peer address
// gets a dial loop with exponential backoff that redials on disconnect
// until shutdown.
package mesh
