package mesh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tandemlabs/tandem/internal/telemetry"
)

const (
	// sendBufferSize is the per-peer outbound buffer. A peer whose
	// buffer is full when a broadcast arrives is dropped.
	sendBufferSize = 256

	// writeWait bounds a single WebSocket write so a dead TCP
	// connection cannot stall the write pump.
	writeWait = 10 * time.Second
)

// peerConn is one connected peer, dialed or accepted.
type peerConn struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// writePump serializes all writes to the connection. It exits when the
// hub closes the send channel, announcing a clean close to the peer.
func (c *peerConn) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// directed is a frame addressed to one peer instead of all of them.
type directed struct {
	to   *peerConn
	data []byte
}

// hub owns the peer set. All membership changes and sends go through
// its run goroutine, so the map needs no lock; the only state visible
// from outside is the atomic peer count.
type hub struct {
	register   chan *peerConn
	unregister chan *peerConn
	broadcast  chan []byte
	direct     chan directed

	peers map[*peerConn]bool
	count atomic.Int32

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func newHub(logger *slog.Logger, metrics *telemetry.Metrics) *hub {
	return &hub{
		register:   make(chan *peerConn),
		unregister: make(chan *peerConn),
		broadcast:  make(chan []byte),
		direct:     make(chan directed),
		peers:      make(map[*peerConn]bool),
		logger:     logger,
		metrics:    metrics,
	}
}

// peerCount reports the number of connected peers.
func (h *hub) peerCount() int {
	return int(h.count.Load())
}

// run serves membership and fan-out until the context is canceled,
// then closes every peer down.
func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.peers {
				close(c.send)
				h.count.Add(-1)
				h.metrics.PeerDisconnected()
			}
			return

		case c := <-h.register:
			h.peers[c] = true
			h.count.Add(1)
			h.metrics.PeerConnected()
			h.logger.Debug("peer connected", "remote", c.addr, "peers", len(h.peers))

		case c := <-h.unregister:
			if h.peers[c] {
				delete(h.peers, c)
				close(c.send)
				h.count.Add(-1)
				h.metrics.PeerDisconnected()
				h.logger.Debug("peer disconnected", "remote", c.addr, "peers", len(h.peers))
			}

		case data := <-h.broadcast:
			for c := range h.peers {
				select {
				case c.send <- data:
				default:
					h.drop(c)
				}
			}

		case d := <-h.direct:
			if h.peers[d.to] {
				select {
				case d.to.send <- d.data:
				default:
					h.drop(d.to)
				}
			}
		}
	}
}

// drop removes a peer whose send buffer is full. Only the run
// goroutine calls this.
func (h *hub) drop(c *peerConn) {
	delete(h.peers, c)
	close(c.send)
	h.count.Add(-1)
	h.metrics.PeerDisconnected()
	h.logger.Warn("dropping slow peer", "remote", c.addr, "peers", len(h.peers))
}
