package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Dial backoff bounds. The first attempt is immediate; retries grow
// from the initial interval to the cap and continue until shutdown.
const (
	dialInitialInterval = 250 * time.Millisecond
	dialMaxInterval     = 15 * time.Second
)

// ensureDialing starts a dial loop for addr unless one is already
// running. Safe from New and from the discovery goroutine; both hold
// the waitgroup open, so the Add here cannot race Close's Wait.
func (m *Mesh) ensureDialing(addr string) {
	if addr == "" {
		return
	}

	m.dialMu.Lock()
	if m.dialing[addr] {
		m.dialMu.Unlock()
		return
	}
	m.dialing[addr] = true
	m.dialMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dialLoop(m.runCtx, addr)
	}()
}

// dialLoop keeps addr connected: dial with backoff, attach the peer,
// wait for the connection to drop, dial again. Exits on shutdown.
func (m *Mesh) dialLoop(ctx context.Context, addr string) {
	url := fmt.Sprintf("ws://%s/ws", addr)

	for ctx.Err() == nil {
		conn, err := m.dialPeer(ctx, url)
		if err != nil {
			// Backoff retries every failure, so only cancellation
			// lands here.
			return
		}
		m.logger.Info("peer dialed", "addr", addr)

		disconnected := m.startPeer(conn)
		select {
		case <-disconnected:
			m.logger.Info("peer connection lost, redialing", "addr", addr)
		case <-ctx.Done():
			return
		}
	}
}

// dialPeer retries the WebSocket dial until it succeeds or the context
// is canceled.
func (m *Mesh) dialPeer(ctx context.Context, url string) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dialInitialInterval
	policy.MaxInterval = dialMaxInterval
	policy.MaxElapsedTime = 0 // retry until shutdown

	var conn *websocket.Conn
	attempt := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", url, err)
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Debug("peer dial failed, backing off", "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}
