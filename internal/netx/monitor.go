// Package netx watches connectivity by probing the remote endpoint on an
// interval and reporting online/offline transitions.
package netx

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/papersync/papersync/internal/logging"
)

const probeTimeout = 3 * time.Second

// Probe reports nil when the network looks usable.
type Probe func(ctx context.Context) error

// TCPProbe dials addr (host:port) once with a short timeout.
func TCPProbe(addr string) Probe {
	return func(ctx context.Context) error {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Monitor runs the probe on a ticker and exposes the current state plus a
// transition stream. The stream is buffered and transitions are dropped if
// the consumer lags; consumers only care about the latest state.
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      logging.Logger

	mu      sync.RWMutex
	online  bool
	changes chan bool
}

func NewMonitor(probe Probe, interval time.Duration, log logging.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		log:      log.With("component", "netx"),
		changes:  make(chan bool, 8),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Changes streams online/offline transitions (true = online).
func (m *Monitor) Changes() <-chan bool {
	return m.changes
}

// Run probes until ctx is cancelled. The first probe fires immediately so
// startup does not wait a full interval to learn the state.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.probe(probeCtx)
	cancel()

	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	m.log.Info(ctx, "connectivity changed", "online", online)
	select {
	case m.changes <- online:
	default:
	}
}
