// Package client implements the Lifecycle controller (spec §4.1): the
// top-level object an embedder constructs, configures, and starts/stops.
package client

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/state"
	"github.com/rstunc/rstunc/internal/telemetry"
	"github.com/rstunc/rstunc/internal/traffic"
	"github.com/rstunc/rstunc/internal/tunnel"
)

// shutdownSoftTimeout bounds how long stop_async waits for any single
// connection close before giving up on it and moving on (spec §4.1
// rationale: shutdown must never deadlock). Listener shutdowns are not
// bounded by it.
const shutdownSoftTimeout = 2 * time.Second

// gracePeriod is the fixed sleep stop() performs in place of properly
// awaiting shutdown tasks, since it has no async return path to the caller.
const gracePeriod = 3 * time.Second

// installCryptoProviderOnce stands in for the original client's one-shot
// default-crypto-provider install. Go's crypto/tls has no equivalent
// pluggable-provider registration step, so this is intentionally a no-op;
// it exists to keep start_tunneling's documented one-shot-init shape intact
// for anything an embedder layers on top via StartTunneling.
var installCryptoProviderOnce sync.Once

// Client is the embedder-facing handle for a running tunnel set.
type Client struct {
	cfg    *config.ClientConfig
	table  *state.Table
	bridge *telemetry.Bridge
	sink   *logutil.Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an idle Client from cfg.
func New(cfg *config.ClientConfig) *Client {
	bridge := telemetry.New()
	tbl := state.New(bridge)
	sink := logutil.NewSink(bridge, tbl.InfoReportEnabled)

	return &Client{cfg: cfg, table: tbl, bridge: bridge, sink: sink}
}

// SetListener installs the host integration's telemetry callback.
func (c *Client) SetListener(l telemetry.Listener) {
	c.bridge.SetListener(l)
}

// SetEnableInfoReport gates telemetry emission; disabled by default.
func (c *Client) SetEnableInfoReport(enable bool) {
	c.table.SetEnableInfoReport(enable)
}

// State reports the client's current lifecycle state.
func (c *Client) State() state.ClientState {
	return c.table.GetState()
}

// ConnectAndServeAsync launches one worker per configured tunnel plus the
// TrafficReporter and returns immediately (spec §4.1: "non-blocking variant
// that launches workers on an existing runtime").
func (c *Client) ConnectAndServeAsync(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.table.SetState(state.Connecting)

	for i, t := range c.cfg.Tunnels {
		w := &tunnel.Worker{
			Index:  i,
			Cfg:    c.cfg,
			Tunnel: t,
			Table:  c.table,
			Sink:   c.sink,
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			w.Run(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		traffic.Run(ctx, c.table, c.bridge)
	}()
}

// StartTunneling is the blocking entry point (spec §4.1): it launches the
// workers, blocks until an interrupt or ctx cancellation, then stops.
func (c *Client) StartTunneling(ctx context.Context) {
	installCryptoProviderOnce.Do(func() {})

	c.ConnectAndServeAsync(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	c.StopAsync(context.Background())
}

// signalStop transitions to Stopping, cancels every worker's context, and
// drains the StateTable, returning what must still be shut down. Signaling
// always precedes awaiting (spec §4.1 rationale).
func (c *Client) signalStop() state.Drained {
	c.table.SetState(state.Stopping)
	if c.cancel != nil {
		c.cancel()
	}
	return c.table.Drain()
}

// shutdownTasks fans the drained resources' shutdown out across an
// errgroup bounded by cfg.Workers, the "multi-worker runtime" bound spec
// §4.1/§5 names for fire-and-forget per-connection shutdown tasks.
func (c *Client) shutdownTasks(ctx context.Context, drained state.Drained) *errgroup.Group {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.cfg.Workers, 1))

	for _, stop := range drained.MigrationStop {
		stop := stop
		g.Go(func() error {
			closeStopSignal(stop)
			return nil
		})
	}

	for _, conn := range drained.Connections {
		conn := conn
		g.Go(func() error {
			c.closeConnSoft(gctx, conn)
			return nil
		})
	}

	for _, l := range drained.TCPListeners {
		l := l
		g.Go(func() error {
			if err := l.Shutdown(gctx); err != nil {
				c.sink.Warn("shutting down TCP listener %s: %s", l.Addr(), err)
			}
			return nil
		})
	}
	for _, l := range drained.UDPListeners {
		l := l
		g.Go(func() error {
			if err := l.Shutdown(gctx); err != nil {
				c.sink.Warn("shutting down UDP listener %s: %s", l.Addr(), err)
			}
			return nil
		})
	}

	return g
}

func (c *Client) closeConnSoft(ctx context.Context, conn state.Conn) {
	done := make(chan error, 1)
	go func() { done <- conn.Close() }()

	timeout, cancel := context.WithTimeout(ctx, shutdownSoftTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			c.sink.Warn("closing connection to %s: %s", conn.RemoteAddr(), err)
		}
	case <-timeout.Done():
		c.sink.Warn("closing connection to %s timed out", conn.RemoteAddr())
	}
}

func closeStopSignal(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}

// StopAsync signals shutdown and awaits every shutdown task before
// transitioning to Terminated (spec §4.1). Each connection close is
// abandoned after shutdownSoftTimeout; listener shutdowns and the
// workers' own exit are awaited without a timeout.
func (c *Client) StopAsync(ctx context.Context) {
	drained := c.signalStop()
	g := c.shutdownTasks(ctx, drained)
	_ = g.Wait()
	c.wg.Wait()
	c.table.SetState(state.Terminated)
}

// Stop signals shutdown the same way StopAsync does, but cannot await
// completion, so it sleeps a fixed grace period instead (spec §4.1).
// Shutdown still completes in the background after Stop returns.
func (c *Client) Stop() {
	drained := c.signalStop()
	g := c.shutdownTasks(context.Background(), drained)

	go func() {
		_ = g.Wait()
		c.wg.Wait()
		c.table.SetState(state.Terminated)
	}()

	time.Sleep(gracePeriod)
}
