package migrate

import (
	"context"
	"net"
	"time"

	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/state"
)

// Endpoint is the minimal rebind surface the scheduler needs; *RebindableConn
// satisfies it, and tests can substitute a fake.
type Endpoint interface {
	Rebind(laddr *net.UDPAddr) (oldAddr, newAddr net.Addr, err error)
}

// rebindTarget adapts an Endpoint to state.Endpoint, binding a fresh
// unspecified address of the same family on every Rebind call.
type rebindTarget struct {
	ep     Endpoint
	family *net.UDPAddr
}

func (t rebindTarget) Rebind() (oldAddr, newAddr net.Addr, err error) {
	return t.ep.Rebind(&net.UDPAddr{IP: t.family.IP, Port: 0})
}

func (t rebindTarget) Close() error { return nil }

// AsStateEndpoint wraps an Endpoint (a *RebindableConn, in production) as a
// state.Endpoint bound to the given local address family, for registration
// in the StateTable alongside the connection it serves.
func AsStateEndpoint(ep Endpoint, laddr *net.UDPAddr) state.Endpoint {
	return rebindTarget{ep: ep, family: laddr}
}

// Run implements spec §4.6: a per-tunnel task that rebinds localServerAddr's
// UDP socket every hopInterval, skipping missed ticks rather than queuing a
// burst, until stop fires. A non-positive hopInterval disables migration
// entirely; callers should not start Run in that case, but Run returns
// immediately if it is.
func Run(
	ctx context.Context,
	localServerAddr string,
	hopInterval time.Duration,
	tbl *state.Table,
	sink *logutil.Sink,
	stop <-chan struct{},
) {
	if hopInterval <= 0 {
		return
	}

	ticker := time.NewTicker(hopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			rebindOnce(localServerAddr, tbl, sink)
		}
	}
}

// rebindOnce performs one migration pass: snapshot the live endpoints under
// the StateTable lock, then rebind localServerAddr's endpoint, if it is
// live, outside the lock so the I/O never blocks other StateTable
// operations (spec §4.6 step 1-2).
func rebindOnce(localServerAddr string, tbl *state.Table, sink *logutil.Sink) {
	live := tbl.LiveEndpoints()

	ep, ok := live[localServerAddr]
	if !ok {
		return
	}

	oldAddr, newAddr, err := ep.Rebind()
	if err != nil {
		sink.Warn("%s: connection migration failed: %s", localServerAddr, err)
		return
	}

	sink.Info("%s: migrated connection from %s to %s", localServerAddr, oldAddr, newAddr)
}
