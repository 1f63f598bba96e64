// Package tcptun implements the TCP tunnel worker's boundary contract
// (spec §4.9, §6): one QUIC bidirectional stream per TCP connection, no
// further framing.
package tcptun

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/pipeio"
)

// Server is a local TCP listener that outlives individual QUIC connections:
// a tunnel binds it once and hands it to every successive ServeOutbound
// call across reconnects.
//
// A single accepted-but-undelivered connection can sit blocked on connCh's
// unbuffered send between serve iterations; that blocked send is the
// pending_tcp_stream carry-over the spec calls for, realized as a channel
// handoff instead of an explicit slot field.
type Server struct {
	ln     net.Listener
	connCh chan net.Conn
	closed chan struct{}
	once   sync.Once
}

// NewServer binds addr and starts accepting in the background.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, connCh: make(chan net.Conn), closed: make(chan struct{})}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		select {
		case s.connCh <- c:
		case <-s.closed:
			_ = c.Close()
			return
		}
	}
}

// Addr implements state.Listener.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown implements state.Listener.
func (s *Server) Shutdown(_ context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return s.ln.Close()
}

// ServeOutbound accepts local TCP connections from server and multiplexes
// each onto its own QUIC stream, until conn closes or ctx is canceled.
func ServeOutbound(ctx context.Context, conn quic.Connection, server *Server, idleTimeout time.Duration, sink *logutil.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Context().Done():
			return
		case c := <-server.connCh:
			go handleOutbound(conn, c, idleTimeout, sink)
		}
	}
}

func handleOutbound(conn quic.Connection, c net.Conn, idleTimeout time.Duration, sink *logutil.Sink) {
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		sink.Warn("tcptun: open stream for %s failed: %s", c.RemoteAddr(), err)
		_ = c.Close()
		return
	}

	local := pipeio.WithIdleTimeout(c, c, idleTimeout)
	remote := pipeio.WithIdleTimeout(stream, stream, idleTimeout)
	pipeio.Pipe(conn.Context(), local, remote, func(err error) {
		sink.Debug("tcptun: %s: %s", c.RemoteAddr(), err)
	})
}

// ServeInbound accepts QUIC streams pushed by the peer and dials
// upstreamAddr for each one, splicing bytes between the two.
func ServeInbound(ctx context.Context, conn quic.Connection, upstreamAddr string, idleTimeout time.Duration, sink *logutil.Sink) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go handleInbound(conn, stream, upstreamAddr, idleTimeout, sink)
	}
}

func handleInbound(conn quic.Connection, stream quic.Stream, upstreamAddr string, idleTimeout time.Duration, sink *logutil.Sink) {
	var dialer net.Dialer
	upstream, err := dialer.DialContext(conn.Context(), "tcp", upstreamAddr)
	if err != nil {
		sink.Warn("tcptun: dialing upstream %s failed: %s", upstreamAddr, err)
		_ = stream.Close()
		return
	}

	local := pipeio.WithIdleTimeout(upstream, upstream, idleTimeout)
	remote := pipeio.WithIdleTimeout(stream, stream, idleTimeout)
	pipeio.Pipe(conn.Context(), local, remote, func(err error) {
		sink.Debug("tcptun: upstream %s: %s", upstreamAddr, err)
	})
}
