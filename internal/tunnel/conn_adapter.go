package tunnel

import (
	"net"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/migrate"
	"github.com/rstunc/rstunc/internal/state"
)

// connAdapter satisfies state.Conn by pairing a quic.Connection with the
// RebindableConn whose socket-level counters are this tunnel's UDP stats.
type connAdapter struct {
	quic quic.Connection
	sock *migrate.RebindableConn
}

func (c connAdapter) Close() error {
	return c.quic.CloseWithError(1, "")
}

func (c connAdapter) Stats() state.ConnStats {
	rx, tx, rxD, txD := c.sock.Stats.Snapshot()
	return state.ConnStats{RxBytes: rx, TxBytes: tx, RxDgrams: rxD, TxDgrams: txD}
}

func (c connAdapter) RemoteAddr() net.Addr {
	return c.quic.RemoteAddr()
}

func (c connAdapter) ClosedReason() error {
	select {
	case <-c.quic.Context().Done():
		return c.quic.Context().Err()
	default:
		return nil
	}
}
