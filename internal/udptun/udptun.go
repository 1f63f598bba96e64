// Package udptun implements the UDP tunnel worker's boundary contract
// (spec §4.10, §6): local datagrams are forwarded as unreliable QUIC
// datagrams, prefixed with a 4-byte session id so one connection can carry
// traffic for more than one local UDP peer.
package udptun

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/logutil"
)

const sessionIDLen = 4

// Server is a local UDP socket shared across reconnects, like tcptun.Server.
type Server struct {
	pc net.PacketConn
}

// NewServer binds addr for receiving local datagrams.
func NewServer(addr string) (*Server, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{pc: pc}, nil
}

// Addr implements state.Listener.
func (s *Server) Addr() net.Addr { return s.pc.LocalAddr() }

// Shutdown implements state.Listener.
func (s *Server) Shutdown(_ context.Context) error { return s.pc.Close() }

// sessionMap assigns small stable ids to net.Addr values for the lifetime
// of one ServeOutbound call; ids are not persisted across reconnects.
type sessionMap struct {
	mu      sync.RWMutex
	next    atomic.Uint32
	byAddr  map[string]uint32
	byID    map[uint32]net.Addr
}

func newSessionMap() *sessionMap {
	return &sessionMap{byAddr: make(map[string]uint32), byID: make(map[uint32]net.Addr)}
}

func (m *sessionMap) idFor(addr net.Addr) uint32 {
	key := addr.String()

	m.mu.RLock()
	id, ok := m.byAddr[key]
	m.mu.RUnlock()
	if ok {
		return id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byAddr[key]; ok {
		return id
	}
	id = m.next.Add(1)
	m.byAddr[key] = id
	m.byID[id] = addr
	return id
}

func (m *sessionMap) addrFor(id uint32) (net.Addr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.byID[id]
	return addr, ok
}

// ServeOutbound bridges server's local datagrams and conn's QUIC datagrams
// until conn closes or ctx is canceled. There is no per-session idle
// expiry: the session table lives only as long as this call and is bounded
// by the number of distinct local peers, which is the caller's own traffic.
func ServeOutbound(ctx context.Context, conn quic.Connection, server *Server, sink *logutil.Sink) {
	sessions := newSessionMap()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-conn.Context().Done()
		cancel()
	}()

	go outboundUpstream(ctx, conn, server, sessions, sink)
	outboundDownstream(ctx, conn, server, sessions, sink)
}

func outboundUpstream(ctx context.Context, conn quic.Connection, server *Server, sessions *sessionMap, sink *logutil.Sink) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, addr, err := server.pc.ReadFrom(buf)
		if err != nil {
			return
		}

		id := sessions.idFor(addr)
		payload := make([]byte, sessionIDLen+n)
		binary.BigEndian.PutUint32(payload, id)
		copy(payload[sessionIDLen:], buf[:n])

		if err := conn.SendDatagram(payload); err != nil {
			sink.Debug("udptun: send datagram for %s: %s", addr, err)
		}
	}
}

func outboundDownstream(ctx context.Context, conn quic.Connection, server *Server, sessions *sessionMap, sink *logutil.Sink) {
	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if len(data) < sessionIDLen {
			continue
		}
		id := binary.BigEndian.Uint32(data[:sessionIDLen])
		addr, ok := sessions.addrFor(id)
		if !ok {
			continue
		}
		if _, err := server.pc.WriteTo(data[sessionIDLen:], addr); err != nil {
			sink.Debug("udptun: write to %s: %s", addr, err)
		}
	}
}

// ServeInbound dials upstreamAddr per session id carried in incoming QUIC
// datagrams, forwarding replies back over QUIC with the same id. A session
// is torn down after idleTimeout of inactivity.
func ServeInbound(ctx context.Context, conn quic.Connection, upstreamAddr string, idleTimeout time.Duration, sink *logutil.Sink) {
	var mu sync.Mutex
	sessions := make(map[uint32]net.Conn)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-conn.Context().Done()
		cancel()
	}()

	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			break
		}
		if len(data) < sessionIDLen {
			continue
		}
		id := binary.BigEndian.Uint32(data[:sessionIDLen])
		payload := data[sessionIDLen:]

		mu.Lock()
		upstream, ok := sessions[id]
		if !ok {
			var dialer net.Dialer
			upstream, err = dialer.DialContext(ctx, "udp", upstreamAddr)
			if err != nil {
				mu.Unlock()
				sink.Warn("udptun: dialing upstream %s failed: %s", upstreamAddr, err)
				continue
			}
			sessions[id] = upstream
			go inboundSessionReader(ctx, conn, id, upstream, idleTimeout, &mu, sessions, sink)
		}
		mu.Unlock()

		if idleTimeout > 0 {
			_ = upstream.SetDeadline(time.Now().Add(idleTimeout))
		}
		if _, err := upstream.Write(payload); err != nil {
			sink.Debug("udptun: write to upstream %s: %s", upstreamAddr, err)
		}
	}

	mu.Lock()
	for id, c := range sessions {
		_ = c.Close()
		delete(sessions, id)
	}
	mu.Unlock()
}

func inboundSessionReader(
	ctx context.Context,
	conn quic.Connection,
	id uint32,
	upstream net.Conn,
	idleTimeout time.Duration,
	mu *sync.Mutex,
	sessions map[uint32]net.Conn,
	sink *logutil.Sink,
) {
	defer func() {
		mu.Lock()
		if sessions[id] == upstream {
			delete(sessions, id)
		}
		mu.Unlock()
		_ = upstream.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		if idleTimeout > 0 {
			_ = upstream.SetDeadline(time.Now().Add(idleTimeout))
		}
		n, err := upstream.Read(buf)
		if err != nil {
			return
		}
		payload := make([]byte, sessionIDLen+n)
		binary.BigEndian.PutUint32(payload, id)
		copy(payload[sessionIDLen:], buf[:n])
		if err := conn.SendDatagram(payload); err != nil {
			sink.Debug("udptun: send datagram for session %d: %s", id, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
