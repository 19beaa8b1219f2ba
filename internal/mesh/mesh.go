package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/coord"
	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/telemetry"
)

// ErrClosed is returned by operations on a mesh after Close.
var ErrClosed = errors.New("mesh is closed")

// StateSource answers peer reconciliation requests from the local
// operation log. Implemented by the SQLite store in internal/store;
// without one the mesh still exchanges operations but cannot answer
// or send state frames.
type StateSource interface {
	// History returns up to limit operations, newest first.
	History(ctx context.Context, limit int) ([]op.Operation, error)

	// Since returns operations with ids greater than id, oldest
	// first, restricted to the given origin instance when non-empty.
	Since(ctx context.Context, id int64, origin string) ([]op.Operation, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Peers are other instances, not browsers; origin checks do not apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Mesh is the WebSocket distribution port: a listener for inbound
// peers, dial loops for outbound ones, and the fan-out hub between
// them. It satisfies the coordination runtime's Distributor contract.
type Mesh struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	source  StateSource

	listener net.Listener
	server   *http.Server

	hub     *hub
	inbound *inboundQueue
	outbox  *outbox

	// runCtx spans New to Close; every pump, dial loop, and the hub
	// stop when it is canceled.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dialMu  sync.Mutex
	dialing map[string]bool

	zeroconfServer *zeroconf.Server

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Mesh at construction.
type Option func(*Mesh)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mesh) {
		m.logger = l
	}
}

// WithMetrics attaches telemetry counters. A nil *Metrics is valid
// and counts nothing.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Mesh) {
		m.metrics = mt
	}
}

// WithStateSource wires the local operation log so the mesh can
// announce its head and answer peers' state frames.
func WithStateSource(src StateSource) Option {
	return func(m *Mesh) {
		m.source = src
	}
}

// New binds the coordination port and starts the mesh: HTTP listener
// with /ws and /metrics routes, the hub goroutine, one dial loop per
// static peer, and mDNS discovery when enabled. The caller owns the
// returned mesh and must Close it.
func New(cfg config.Config, opts ...Option) (*Mesh, error) {
	m := &Mesh{
		cfg:     cfg,
		logger:  slog.Default(),
		inbound: newInboundQueue(),
		outbox:  &outbox{},
		dialing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on coordination port %d: %w", cfg.Port, err)
	}
	m.listener = listener

	m.runCtx, m.cancel = context.WithCancel(context.Background())
	m.hub = newHub(m.logger, m.metrics)

	r := mux.NewRouter()
	r.HandleFunc("/ws", m.serveWS)
	r.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{Handler: r}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.hub.run(m.runCtx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("mesh listener failed", "error", err)
		}
	}()

	for _, peer := range cfg.Peers {
		m.ensureDialing(peer)
	}

	if cfg.DiscoveryEnabled {
		if err := m.startDiscovery(); err != nil {
			// Static peers and inbound connections still work.
			m.logger.Warn("mdns discovery unavailable", "error", err)
		}
	}

	m.logger.Info("mesh listening",
		"instance_id", cfg.InstanceID,
		"addr", listener.Addr().String(),
		"static_peers", len(cfg.Peers),
		"discovery", cfg.DiscoveryEnabled,
	)
	return m, nil
}

// Addr returns the bound listen address. When the configured port is
// 0 this is where the kernel actually put the listener.
func (m *Mesh) Addr() string {
	return m.listener.Addr().String()
}

// Distribute broadcasts one operation to every connected peer. With no
// peers connected the operation is parked in the outbox and delivered
// by a later SyncState; that is a success, not an error.
func (m *Mesh) Distribute(ctx context.Context, o op.Operation) error {
	if m.runCtx.Err() != nil {
		return ErrClosed
	}

	data, err := encodeOpFrame(o)
	if err != nil {
		return err
	}

	if m.hub.peerCount() == 0 {
		if m.outbox.push(o) {
			m.logger.Warn("outbox full, oldest operation discarded")
		}
		m.logger.Debug("no connected peers, operation parked",
			"operation_id", o.OperationID,
			"outbox_depth", m.outbox.depth(),
		)
		return nil
	}

	if err := m.broadcastFrame(ctx, data); err != nil {
		m.outbox.push(o)
		return err
	}
	m.metrics.OperationForwarded()
	return nil
}

// SyncState reflushes the outbox and announces the local log head to
// every connected peer. Peers answer a state frame with any of their
// local operations newer than the announced id.
func (m *Mesh) SyncState(ctx context.Context) error {
	if m.runCtx.Err() != nil {
		return ErrClosed
	}
	if m.hub.peerCount() == 0 {
		return nil
	}

	m.flushOutbox(ctx)

	if m.source == nil {
		return nil
	}
	head, err := m.source.History(ctx, 1)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	var lastID, stamp int64
	if len(head) > 0 {
		lastID = head[0].OperationID
		stamp = head[0].TimestampNanos
	}
	data, err := encodeStateFrame(m.cfg.InstanceID, lastID, stamp)
	if err != nil {
		return err
	}
	return m.broadcastFrame(ctx, data)
}

// DrainPending swaps out the inbound queue and returns it as a batch.
// Returns a nil batch when nothing is queued. Never blocks beyond the
// queue mutex.
func (m *Mesh) DrainPending(ctx context.Context) (coord.Batch, error) {
	if m.runCtx.Err() != nil {
		return nil, ErrClosed
	}
	drained := m.inbound.drain()
	if drained == nil {
		return nil, nil
	}
	return &batch{ops: drained}, nil
}

// Close stops discovery, the dial loops, the hub, and the listener,
// then waits for all of them. Safe to call more than once; later calls
// return the first result.
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Info("mesh closing", "instance_id", m.cfg.InstanceID)
		if m.zeroconfServer != nil {
			m.zeroconfServer.Shutdown()
		}
		m.cancel()
		if err := m.server.Close(); err != nil {
			m.closeErr = fmt.Errorf("close mesh listener: %w", err)
		}
		m.wg.Wait()
	})
	return m.closeErr
}

// flushOutbox rebroadcasts parked operations. Anything that still
// cannot be sent goes back to the outbox in order.
func (m *Mesh) flushOutbox(ctx context.Context) {
	pending := m.outbox.drain()
	if len(pending) == 0 {
		return
	}

	for i, o := range pending {
		if m.hub.peerCount() == 0 {
			m.outbox.requeue(pending[i:])
			return
		}
		data, err := encodeOpFrame(o)
		if err != nil {
			continue
		}
		if err := m.broadcastFrame(ctx, data); err != nil {
			m.outbox.requeue(pending[i:])
			return
		}
		m.metrics.OperationForwarded()
	}
	m.logger.Debug("outbox reflushed", "operations", len(pending))
}

// broadcastFrame hands a frame to the hub for fan-out.
func (m *Mesh) broadcastFrame(ctx context.Context, data []byte) error {
	select {
	case m.hub.broadcast <- data:
		return nil
	case <-m.runCtx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendTo routes a frame to a single peer through the hub, so the hub
// stays the only goroutine touching peer send channels.
func (m *Mesh) sendTo(c *peerConn, data []byte) {
	select {
	case m.hub.direct <- directed{to: c, data: data}:
	case <-m.runCtx.Done():
	}
}

// serveWS upgrades an inbound HTTP request and attaches the peer.
func (m *Mesh) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	m.startPeer(conn)
}

// startPeer registers a connection with the hub and starts its pumps.
// The returned channel closes when the connection's read pump exits;
// dial loops use it to trigger a redial.
func (m *Mesh) startPeer(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	c := &peerConn{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		addr: conn.RemoteAddr().String(),
	}

	select {
	case m.hub.register <- c:
	case <-m.runCtx.Done():
		conn.Close()
		close(done)
		return done
	}

	go c.writePump()
	go func() {
		defer close(done)
		m.readPump(c)
	}()
	return done
}

// readPump consumes frames from one connection until it drops.
func (m *Mesh) readPump(c *peerConn) {
	defer func() {
		select {
		case m.hub.unregister <- c:
		case <-m.runCtx.Done():
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		m.handleFrame(c, data)
	}
}

// handleFrame routes one decoded inbound frame. Invalid frames and
// echoes of our own operations are dropped and counted.
func (m *Mesh) handleFrame(c *peerConn, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		m.metrics.FrameDropped()
		m.logger.Warn("dropping invalid frame", "remote", c.addr, "error", err)
		return
	}

	switch f.Type {
	case frameTypeOp:
		if f.Op.OriginInstanceID == m.cfg.InstanceID {
			// Our own operation reflected back through the mesh.
			m.metrics.FrameDropped()
			return
		}
		m.inbound.enqueue(*f.Op)

	case frameTypeState:
		m.answerStateFrame(c, f)
	}
}

// answerStateFrame replies to a peer's log-head announcement with our
// locally originated operations it has not seen.
func (m *Mesh) answerStateFrame(c *peerConn, f *frame) {
	if m.source == nil {
		return
	}

	ops, err := m.source.Since(m.runCtx, f.LastOperationID, m.cfg.InstanceID)
	if err != nil {
		m.logger.Warn("state reply query failed", "peer", f.InstanceID, "error", err)
		return
	}
	for i := range ops {
		data, err := encodeOpFrame(ops[i])
		if err != nil {
			continue
		}
		m.sendTo(c, data)
	}
	if len(ops) > 0 {
		m.logger.Debug("answered state frame",
			"peer", f.InstanceID,
			"since", f.LastOperationID,
			"operations", len(ops),
		)
	}
}
