// Package tunnel implements the TunnelWorker (spec §4.2): the per-tunnel
// connect -> login -> serve -> reconnect loop.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/login"
	"github.com/rstunc/rstunc/internal/migrate"
	"github.com/rstunc/rstunc/internal/retry"
	"github.com/rstunc/rstunc/internal/state"
	"github.com/rstunc/rstunc/internal/tcptun"
	"github.com/rstunc/rstunc/internal/tlsconf"
	"github.com/rstunc/rstunc/internal/udptun"
)

// Worker runs one configured tunnel for the life of the process.
type Worker struct {
	Index  int
	Cfg    *config.ClientConfig
	Tunnel config.TunnelConfig
	Table  *state.Table
	Sink   *logutil.Sink
}

func (w *Worker) name() string {
	return fmt.Sprintf("tunnel#%d(%s)", w.Index, w.Tunnel.LocalServerAddr)
}

// Run blocks until ctx is canceled or the table's state reaches Stopping,
// reconnecting indefinitely per spec §4.2 step 6. A TLS misconfiguration
// (bad cipher, unreadable or empty cert file) is fatal rather than
// retried (spec §7): it is logged and Run returns instead of looping.
func (w *Worker) Run(ctx context.Context) {
	for {
		if w.Table.ShouldQuit() {
			return
		}

		var fatal error
		err := retry.Unbounded(ctx, w.name(), w.Sink, w.Table.ShouldQuit, func() error {
			err := w.connectAndServe(ctx)
			var cfgErr *tlsconf.ConfigError
			if errors.As(err, &cfgErr) {
				fatal = err
				return nil
			}
			return err
		})
		if fatal != nil {
			w.Sink.Error("%s: fatal configuration error, giving up: %s", w.name(), fatal)
			return
		}
		if err != nil {
			return
		}
	}
}

// connectAndServe performs one full connect/login/serve cycle (spec §4.2
// steps 1-6). A non-nil error means connection establishment failed and
// should be retried with backoff; a nil return means the tunnel served
// successfully and then disconnected, which the caller retries immediately.
func (w *Worker) connectAndServe(ctx context.Context) error {
	prepared, err := login.Build(ctx, w.Cfg)
	if err != nil {
		return fmt.Errorf("building login config: %w", err)
	}

	sock, err := migrate.NewRebindableConn("udp", prepared.LocalAddr)
	if err != nil {
		return fmt.Errorf("opening local endpoint: %w", err)
	}

	info := config.LoginInfo{Password: w.Cfg.Password, TunnelConfig: w.Tunnel}

	quicConn, err := login.Handshake(ctx, w.Index, sock, prepared, info, w.Cfg.WaitBeforeRetryMs, w.Sink)
	if err != nil {
		_ = sock.Close()
		return err
	}

	addr := w.Tunnel.LocalServerAddr
	conn := connAdapter{quic: quicConn, sock: sock}
	w.Table.RegisterConnection(addr, conn, migrate.AsStateEndpoint(sock, prepared.LocalAddr))
	w.Table.SetState(state.Tunneling)

	var stopMigration chan struct{}
	if w.Cfg.HopIntervalSeconds > 0 {
		ch, created := w.Table.EnsureMigrationStopSignal(addr)
		stopMigration = ch
		if created {
			go migrate.Run(ctx, addr, time.Duration(w.Cfg.HopIntervalSeconds)*time.Second, w.Table, w.Sink, ch)
		}
	}

	w.serve(ctx, quicConn)

	w.Table.FoldAndRemoveConnection(addr)
	if stopMigration != nil {
		w.Table.StopMigration(addr)
	}
	_ = conn.Close()
	_ = sock.Close()

	return nil
}

// serve dispatches to the routine matching (mode, upstream) and blocks
// until it returns (spec §4.2 step 5).
func (w *Worker) serve(ctx context.Context, quicConn quic.Connection) {
	t := w.Tunnel

	switch {
	case t.Mode == config.ModeOut && t.Upstream == config.UpstreamTCP:
		var srv *tcptun.Server
		listener, err := w.Table.EnsureTCPListener(t.LocalServerAddr, func() (state.Listener, error) {
			bindErr := retry.Bounded(ctx, w.name()+" tcp listener", w.Sink, func() error {
				s, err := tcptun.NewServer(t.LocalServerAddr)
				if err != nil {
					return err
				}
				srv = s
				return nil
			})
			if bindErr != nil {
				return nil, bindErr
			}
			return srv, nil
		})
		if err != nil {
			w.Sink.Error("%s: binding local TCP listener: %s", w.name(), err)
			return
		}
		tcptun.ServeOutbound(ctx, quicConn, listener.(*tcptun.Server), w.tcpIdleTimeout(), w.Sink)

	case t.Mode == config.ModeOut && t.Upstream == config.UpstreamUDP:
		var srv *udptun.Server
		listener, err := w.Table.EnsureUDPListener(t.LocalServerAddr, func() (state.Listener, error) {
			bindErr := retry.Bounded(ctx, w.name()+" udp listener", w.Sink, func() error {
				s, err := udptun.NewServer(t.LocalServerAddr)
				if err != nil {
					return err
				}
				srv = s
				return nil
			})
			if bindErr != nil {
				return nil, bindErr
			}
			return srv, nil
		})
		if err != nil {
			w.Sink.Error("%s: binding local UDP listener: %s", w.name(), err)
			return
		}
		udptun.ServeOutbound(ctx, quicConn, listener.(*udptun.Server), w.Sink)

	case t.Mode == config.ModeIn && t.Upstream == config.UpstreamTCP:
		tcptun.ServeInbound(ctx, quicConn, t.LocalServerAddr, w.tcpIdleTimeout(), w.Sink)

	case t.Mode == config.ModeIn && t.Upstream == config.UpstreamUDP:
		udptun.ServeInbound(ctx, quicConn, t.LocalServerAddr, w.udpIdleTimeout(), w.Sink)

	default:
		w.Sink.Error("%s: unrecognized mode/upstream combination", w.name())
	}
}

func (w *Worker) tcpIdleTimeout() time.Duration {
	return time.Duration(w.Cfg.TCPTimeoutMs) * time.Millisecond
}

func (w *Worker) udpIdleTimeout() time.Duration {
	return time.Duration(w.Cfg.UDPTimeoutMs) * time.Millisecond
}
