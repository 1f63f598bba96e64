// Package state implements the StateTable: the single mutex-guarded
// registry described in spec §3 that couples TunnelWorkers, the
// MigrationScheduler, and the TrafficReporter.
package state

import (
	"context"
	"net"
	"sync"

	"github.com/rstunc/rstunc/internal/telemetry"
)

// Conn is the subset of a live QUIC connection the StateTable needs:
// enough to close it on shutdown and fold its final counters into
// lifetime totals. It deliberately knows nothing about streams or
// datagrams — those belong to the tunnel workers.
type Conn interface {
	// Close closes the connection with application error code 1 and an
	// empty reason, per spec §4.1.
	Close() error
	// Stats returns the connection's current UDP-level counters.
	Stats() ConnStats
	// RemoteAddr reports the peer address, for log lines.
	RemoteAddr() net.Addr
	// ClosedReason reports whether the connection has already closed on
	// its own (peer close, idle timeout, migration task visibility).
	ClosedReason() error
}

// ConnStats mirrors quinn's per-connection udp_rx/udp_tx counters.
type ConnStats struct {
	RxBytes  uint64
	TxBytes  uint64
	RxDgrams uint64
	TxDgrams uint64
}

// Endpoint is the subset of a tunnel's local UDP endpoint the
// MigrationScheduler needs to rebind it.
type Endpoint interface {
	Rebind() (oldAddr, newAddr net.Addr, err error)
	Close() error
}

// Listener is the shared-across-reconnects local TCP/UDP server a tunnel
// binds once and keeps handing to successive serve routines.
type Listener interface {
	Addr() net.Addr
	Shutdown(ctx context.Context) error
}

// registration couples a connection with the endpoint behind it, keyed by
// the tunnel's local_server_addr.
type registration struct {
	conn     Conn
	endpoint Endpoint
}

// Table is the client's single shared, mutex-guarded state registry.
type Table struct {
	mu sync.Mutex

	connections   map[string]registration
	tcpListeners  map[string]Listener
	udpListeners  map[string]Listener
	migrationStop map[string]chan struct{}

	clientState  ClientState
	totalTraffic telemetry.Traffic

	bridge              *telemetry.Bridge
	onInfoReportEnabled bool
}

// New returns an empty Table in the Idle state.
func New(bridge *telemetry.Bridge) *Table {
	return &Table{
		connections:   make(map[string]registration),
		tcpListeners:  make(map[string]Listener),
		udpListeners:  make(map[string]Listener),
		migrationStop: make(map[string]chan struct{}),
		clientState:   Idle,
		bridge:        bridge,
	}
}

// SetEnableInfoReport gates telemetry emission (spec §3 invariant 4).
func (t *Table) SetEnableInfoReport(enable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onInfoReportEnabled = enable
}

// SetState transitions client_state and emits a TunnelState telemetry
// record before releasing the lock (spec §3 invariant 5). Terminated is
// absorbing: once reached, further SetState calls are no-ops.
func (t *Table) SetState(s ClientState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.clientState == Terminated {
		return
	}
	t.clientState = s
	t.postLocked(telemetry.RecordState, s)
}

// GetState returns the current client state.
func (t *Table) GetState() ClientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientState
}

// ShouldQuit reports whether the client has begun stopping.
func (t *Table) ShouldQuit() bool {
	s := t.GetState()
	return s == Stopping || s == Terminated
}

// postLocked posts a telemetry record; callers must hold t.mu.
func (t *Table) postLocked(typ telemetry.RecordType, payload interface{}) {
	if !t.onInfoReportEnabled || t.bridge == nil {
		return
	}
	t.bridge.Post(telemetry.Record{Type: typ, Payload: payload})
}

// RegisterConnection inserts (localServerAddr -> conn, endpoint), the
// TunnelWorker's step after a successful login (spec §3 invariant 1).
func (t *Table) RegisterConnection(localServerAddr string, conn Conn, endpoint Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connections[localServerAddr] = registration{conn: conn, endpoint: endpoint}
}

// FoldAndRemoveConnection removes the connection at localServerAddr and
// folds its final counters into total_traffic in the same critical
// section, closing the double-counting hazard spec §9 calls out: a
// TrafficReporter tick can never observe both the live connection and an
// already-incremented total.
func (t *Table) FoldAndRemoveConnection(localServerAddr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, ok := t.connections[localServerAddr]
	if !ok {
		return
	}

	stats := reg.conn.Stats()
	t.totalTraffic.RxBytes += stats.RxBytes
	t.totalTraffic.TxBytes += stats.TxBytes
	t.totalTraffic.RxDgrams += stats.RxDgrams
	t.totalTraffic.TxDgrams += stats.TxDgrams

	delete(t.connections, localServerAddr)
}

// HasConnection reports whether localServerAddr currently has a
// registered connection.
func (t *Table) HasConnection(localServerAddr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.connections[localServerAddr]
	return ok
}

// EnsureTCPListener returns the existing listener for addr, if any, or
// calls create (without holding the lock) and registers the result. This
// is how an Out+Tcp tunnel shares one bound listener across reconnects.
func (t *Table) EnsureTCPListener(addr string, create func() (Listener, error)) (Listener, error) {
	return t.ensureListener(t.tcpListeners, addr, create)
}

// EnsureUDPListener is EnsureTCPListener's UDP counterpart.
func (t *Table) EnsureUDPListener(addr string, create func() (Listener, error)) (Listener, error) {
	return t.ensureListener(t.udpListeners, addr, create)
}

func (t *Table) ensureListener(table map[string]Listener, addr string, create func() (Listener, error)) (Listener, error) {
	t.mu.Lock()
	if l, ok := table[addr]; ok {
		t.mu.Unlock()
		return l, nil
	}
	t.mu.Unlock()

	l, err := create()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if existing, ok := table[addr]; ok {
		t.mu.Unlock()
		_ = l.Shutdown(context.Background())
		return existing, nil
	}
	table[addr] = l
	t.mu.Unlock()

	return l, nil
}

// EnsureMigrationStopSignal registers a stop channel for localServerAddr
// iff one is not already registered, atomically (spec §9: "check
// migration not running, then start it" must be one critical section).
// It returns the channel and whether this call created it.
func (t *Table) EnsureMigrationStopSignal(localServerAddr string) (stop chan struct{}, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.migrationStop[localServerAddr]; ok {
		return ch, false
	}
	ch = make(chan struct{})
	t.migrationStop[localServerAddr] = ch
	return ch, true
}

// StopMigration closes and removes the stop signal for localServerAddr,
// if any. Safe to call more than once.
func (t *Table) StopMigration(localServerAddr string) {
	t.mu.Lock()
	ch, ok := t.migrationStop[localServerAddr]
	if ok {
		delete(t.migrationStop, localServerAddr)
	}
	t.mu.Unlock()

	if ok {
		close(ch)
	}
}

// LiveEndpoints snapshots the (localServerAddr, endpoint) pairs whose
// connection has not already closed, releasing the lock before any I/O
// (spec §4.6 step 1).
func (t *Table) LiveEndpoints() map[string]Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Endpoint, len(t.connections))
	for addr, reg := range t.connections {
		if reg.conn.ClosedReason() == nil {
			out[addr] = reg.endpoint
		}
	}
	return out
}

// TrafficSnapshot sums every live connection's current counters plus the
// lifetime totals, under one critical section (spec §4.8).
func (t *Table) TrafficSnapshot() telemetry.Traffic {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.totalTraffic
	for _, reg := range t.connections {
		s := reg.conn.Stats()
		total.RxBytes += s.RxBytes
		total.TxBytes += s.TxBytes
		total.RxDgrams += s.RxDgrams
		total.TxDgrams += s.TxDgrams
	}
	return total
}

// InfoReportEnabled reports whether telemetry emission is currently
// enabled.
func (t *Table) InfoReportEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onInfoReportEnabled
}

// Drain empties every tracked collection and returns what was present, so
// the caller (Client.stop) can close connections, shut down listeners,
// and signal migration tasks without holding the lock during that I/O
// (spec §4.1, §5: "signal precedes await, lock never held across a
// suspension point").
type Drained struct {
	Connections   map[string]Conn
	TCPListeners  map[string]Listener
	UDPListeners  map[string]Listener
	MigrationStop map[string]chan struct{}
}

func (t *Table) Drain() Drained {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := Drained{
		Connections:   make(map[string]Conn, len(t.connections)),
		TCPListeners:  t.tcpListeners,
		UDPListeners:  t.udpListeners,
		MigrationStop: t.migrationStop,
	}
	for addr, reg := range t.connections {
		d.Connections[addr] = reg.conn
	}

	t.connections = make(map[string]registration)
	t.tcpListeners = make(map[string]Listener)
	t.udpListeners = make(map[string]Listener)
	t.migrationStop = make(map[string]chan struct{})

	return d
}
