package mesh

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// mDNS service identity. Every instance registers under its instance
// id, so discovering yourself is detectable and skipped.
const (
	serviceType   = "_tandem._tcp"
	serviceDomain = "local."
)

// startDiscovery registers this instance with mDNS and browses for
// peers. Discovered peers feed ensureDialing like static ones.
func (m *Mesh) startDiscovery() error {
	txt := []string{
		"id=" + m.cfg.InstanceID,
		"enc=" + boolTag(m.cfg.EncryptionEnabled),
	}
	srv, err := zeroconf.Register(m.cfg.InstanceID, serviceType, serviceDomain, m.listenPort(), txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	m.zeroconfServer = srv

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		srv.Shutdown()
		m.zeroconfServer = nil
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for entry := range entries {
			m.handleDiscovered(entry)
		}
	}()

	if err := resolver.Browse(m.runCtx, serviceType, serviceDomain, entries); err != nil {
		close(entries)
		srv.Shutdown()
		m.zeroconfServer = nil
		return fmt.Errorf("browse mdns services: %w", err)
	}
	return nil
}

// handleDiscovered turns an mDNS answer into a dial target.
func (m *Mesh) handleDiscovered(entry *zeroconf.ServiceEntry) {
	if entry.Instance == m.cfg.InstanceID {
		return
	}
	if !m.compatiblePeer(entry) {
		return
	}
	if len(entry.AddrIPv4) == 0 {
		m.logger.Debug("discovered peer without ipv4 address", "peer", entry.Instance)
		return
	}

	addr := net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port))
	m.logger.Info("peer discovered", "peer", entry.Instance, "addr", addr)
	m.ensureDialing(addr)
}

// compatiblePeer rejects peers whose advertised encryption setting
// disagrees with ours; mixing the two would partition the mesh
// silently at the transport layer instead.
func (m *Mesh) compatiblePeer(entry *zeroconf.ServiceEntry) bool {
	want := "enc=" + boolTag(m.cfg.EncryptionEnabled)
	for _, rec := range entry.Text {
		if strings.HasPrefix(rec, "enc=") && rec != want {
			m.logger.Warn("skipping peer with mismatched encryption setting",
				"peer", entry.Instance)
			return false
		}
	}
	return true
}

// listenPort is the port actually bound, which differs from the
// configured one when that was 0.
func (m *Mesh) listenPort() int {
	if a, ok := m.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return m.cfg.Port
}

func boolTag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
