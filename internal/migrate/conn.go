// Package migrate implements the periodic rebinding of a tunnel's local
// UDP socket behind a live QUIC connection (spec §4.6): the "port-hopping"
// anti-censorship feature. quic-go has no built-in live-rebind call, so a
// RebindableConn gives the quic.Transport a net.PacketConn whose identity
// stays stable across the life of the connection while the underlying
// kernel socket is swapped out from under it.
package migrate

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds the UDP-level byte and datagram counters for one
// RebindableConn, surviving socket swaps across Rebind calls. This is the
// client-side analogue of quinn's Connection::stats().udp_rx/udp_tx.
type Stats struct {
	RxBytes  atomic.Uint64
	TxBytes  atomic.Uint64
	RxDgrams atomic.Uint64
	TxDgrams atomic.Uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() (rxBytes, txBytes, rxDgrams, txDgrams uint64) {
	return s.RxBytes.Load(), s.TxBytes.Load(), s.RxDgrams.Load(), s.TxDgrams.Load()
}

// RebindableConn is a net.PacketConn wrapper that allows the underlying
// OS socket to be replaced without changing the object quic-go holds a
// reference to, letting a single QUIC connection survive a local address
// change the way quinn's Endpoint.rebind does.
type RebindableConn struct {
	mu      sync.Mutex
	network string
	conn    *net.UDPConn
	gen     uint64

	Stats Stats
}

// NewRebindableConn opens a UDP socket at laddr (typically an unspecified
// address with port 0) and wraps it.
func NewRebindableConn(network string, laddr *net.UDPAddr) (*RebindableConn, error) {
	c, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &RebindableConn{network: network, conn: c, gen: 1}, nil
}

// Rebind swaps in a freshly bound UDP socket and closes the previous one.
// It returns the old and new local addresses for logging.
func (r *RebindableConn) Rebind(laddr *net.UDPAddr) (oldAddr, newAddr net.Addr, err error) {
	newConn, err := net.ListenUDP(r.network, laddr)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	old := r.conn
	r.conn = newConn
	r.gen++
	r.mu.Unlock()

	oldAddr = old.LocalAddr()
	newAddr = newConn.LocalAddr()
	_ = old.Close()
	return oldAddr, newAddr, nil
}

// ReadFrom implements net.PacketConn, retrying once if the active socket
// was swapped out from under an in-flight read.
func (r *RebindableConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		c, gen := r.snapshot()
		n, addr, err := c.ReadFrom(p)
		if err == nil {
			r.Stats.RxBytes.Add(uint64(n))
			r.Stats.RxDgrams.Add(1)
			return n, addr, err
		}
		if !isClosedBySwap(err, r, gen) {
			return n, addr, err
		}
	}
}

// WriteTo implements net.PacketConn, retrying once if the active socket
// was swapped out from under an in-flight write.
func (r *RebindableConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	for {
		c, gen := r.snapshot()
		n, err := c.WriteTo(p, addr)
		if err == nil {
			r.Stats.TxBytes.Add(uint64(n))
			r.Stats.TxDgrams.Add(1)
			return n, err
		}
		if !isClosedBySwap(err, r, gen) {
			return n, err
		}
	}
}

func (r *RebindableConn) snapshot() (*net.UDPConn, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn, r.gen
}

func isClosedBySwap(err error, r *RebindableConn, gen uint64) bool {
	if !isNetClosing(err) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen != gen
}

func isNetClosing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// Close closes the active socket.
func (r *RebindableConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// LocalAddr reports the active socket's local address.
func (r *RebindableConn) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return &net.UDPAddr{}
	}
	return r.conn.LocalAddr()
}

// SetDeadline implements net.PacketConn.
func (r *RebindableConn) SetDeadline(t time.Time) error {
	c, _ := r.snapshot()
	return c.SetDeadline(t)
}

// SetReadDeadline implements net.PacketConn.
func (r *RebindableConn) SetReadDeadline(t time.Time) error {
	c, _ := r.snapshot()
	return c.SetReadDeadline(t)
}

// SetWriteDeadline implements net.PacketConn.
func (r *RebindableConn) SetWriteDeadline(t time.Time) error {
	c, _ := r.snapshot()
	return c.SetWriteDeadline(t)
}
