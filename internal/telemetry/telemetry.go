// Package telemetry exposes Prometheus collectors for the runtime.
// Collectors register once on the default registry at package init
// and are served by the mesh listener's /metrics route. A nil
// *Metrics is a valid no-op, so library callers and tests need no
// registry wiring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_operations_submitted_total",
		Help: "Operations committed locally through Submit.",
	})
	operationsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_operations_received_total",
		Help: "Peer-originated operations persisted by the sync loop.",
	})
	operationsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_operations_forwarded_total",
		Help: "Operations broadcast to connected peers.",
	})
	undos = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_undo_total",
		Help: "Undo operations applied.",
	})
	redos = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_redo_total",
		Help: "Redo operations applied.",
	})
	syncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_sync_errors_total",
		Help: "Background sync loop failures (state sync, drain, persist).",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_frames_dropped_total",
		Help: "Inbound wire frames dropped as invalid or echoed.",
	})
	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tandem_connected_peers",
		Help: "Currently connected peer instances.",
	})
)

// Metrics is a handle on the runtime collectors. The zero-pointer is
// a no-op recorder.
type Metrics struct{}

// New returns a metrics handle. Safe to call more than once; the
// collectors themselves register only at package init.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) OperationSubmitted() {
	if m == nil {
		return
	}
	operationsSubmitted.Inc()
}

func (m *Metrics) OperationReceived() {
	if m == nil {
		return
	}
	operationsReceived.Inc()
}

func (m *Metrics) OperationForwarded() {
	if m == nil {
		return
	}
	operationsForwarded.Inc()
}

func (m *Metrics) UndoApplied() {
	if m == nil {
		return
	}
	undos.Inc()
}

func (m *Metrics) RedoApplied() {
	if m == nil {
		return
	}
	redos.Inc()
}

func (m *Metrics) SyncError() {
	if m == nil {
		return
	}
	syncErrors.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	framesDropped.Inc()
}

func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	connectedPeers.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	connectedPeers.Dec()
}
