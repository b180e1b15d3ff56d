package netx

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papersync/papersync/internal/logging"
)

// flakyProbe flips between failing and succeeding under test control.
type flakyProbe struct {
	mu  sync.Mutex
	err error
}

func (p *flakyProbe) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *flakyProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestMonitorEmitsTransitions(t *testing.T) {
	probe := &flakyProbe{err: errors.New("no route")}
	m := NewMonitor(probe.probe, 10*time.Millisecond, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Initial state is offline; failing probes cause no transition.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.IsOnline())
	select {
	case v := <-m.Changes():
		t.Fatalf("unexpected transition %v", v)
	default:
	}

	probe.set(nil)
	select {
	case v := <-m.Changes():
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no online transition")
	}
	assert.True(t, m.IsOnline())

	probe.set(errors.New("link down"))
	select {
	case v := <-m.Changes():
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("no offline transition")
	}
	assert.False(t, m.IsOnline())
}

func TestMonitorStartsOnlineWhenProbeSucceeds(t *testing.T) {
	probe := &flakyProbe{}
	m := NewMonitor(probe.probe, time.Hour, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// The first probe fires immediately, not after the first interval.
	select {
	case v := <-m.Changes():
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no startup transition")
	}
	assert.True(t, m.IsOnline())
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.NoError(t, TCPProbe(ln.Addr().String())(context.Background()))

	addr := ln.Addr().String()
	ln.Close()
	assert.Error(t, TCPProbe(addr)(context.Background()))
}
