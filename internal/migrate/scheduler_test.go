package migrate

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/state"
	"github.com/rstunc/rstunc/internal/telemetry"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() error         { return nil }
func (f *fakeConn) Stats() state.ConnStats { return state.ConnStats{} }
func (f *fakeConn) RemoteAddr() net.Addr { return &net.UDPAddr{} }
func (f *fakeConn) ClosedReason() error {
	if f.closed {
		return net.ErrClosed
	}
	return nil
}

type fakeEndpoint struct{ rebinds int }

func (f *fakeEndpoint) Rebind() (net.Addr, net.Addr, error) {
	f.rebinds++
	return &net.UDPAddr{Port: 1}, &net.UDPAddr{Port: 2}, nil
}
func (f *fakeEndpoint) Close() error { return nil }

func sink() *logutil.Sink {
	return logutil.NewSink(telemetry.New(), func() bool { return false })
}

func TestRunRebindsOnEachTick(t *testing.T) {
	tbl := state.New(telemetry.New())
	ep := &fakeEndpoint{}
	tbl.RegisterConnection("addr", &fakeConn{}, ep)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		Run(context.Background(), "addr", 10*time.Millisecond, tbl, sink(), stop)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	close(stop)
	<-done

	assert.GreaterOrEqual(t, ep.rebinds, 2)
}

func TestRunSkipsClosedConnections(t *testing.T) {
	tbl := state.New(telemetry.New())
	ep := &fakeEndpoint{}
	tbl.RegisterConnection("addr", &fakeConn{closed: true}, ep)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		Run(context.Background(), "addr", 10*time.Millisecond, tbl, sink(), stop)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	close(stop)
	<-done

	assert.Equal(t, 0, ep.rebinds)
}

func TestRunDisabledWhenHopIntervalNonPositive(t *testing.T) {
	tbl := state.New(telemetry.New())
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		Run(context.Background(), "addr", 0, tbl, sink(), stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately for a non-positive hop interval")
	}
}

func TestAsStateEndpointRebindsThroughEndpointInterface(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	rc, err := NewRebindableConn("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rc.Close()

	se := AsStateEndpoint(rc, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	oldAddr, newAddr, err := se.Rebind()
	require.NoError(t, err)
	assert.NotEqual(t, oldAddr.String(), newAddr.String())
}
