package login

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/wire"
)

// Handshake performs spec §4.3: dial the QUIC connection over pconn, open
// one bidirectional stream, send ReqLogin, and classify the response.
// Errors returned here are always retryable at the TunnelWorker's outer
// backoff loop — including an authoritative RespFailure, since the spec
// deliberately has no permanent-failure pathway at this layer.
func Handshake(
	ctx context.Context,
	index int,
	pconn net.PacketConn,
	prepared *PreparedLoginConfig,
	info config.LoginInfo,
	waitBeforeRetryMs int,
	sink *logutil.Sink,
) (quic.Connection, error) {
	sink.Info(
		"%d:%s connecting, idle_timeout:%s, retry_timeout:%dms, cipher(server-side negotiated, not pinned)",
		index, info.FormatWithRemoteAddr(prepared.RemoteAddr), prepared.QUICConfig.MaxIdleTimeout, waitBeforeRetryMs,
	)

	conn, err := quic.Dial(ctx, pconn, prepared.RemoteAddr, prepared.TLSConfig, prepared.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", prepared.RemoteAddr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open login stream failed")
		return nil, fmt.Errorf("open bidirectional connection failed: %w", err)
	}

	sink.Info("%d:%s logging in...", index, info.FormatWithRemoteAddr(prepared.RemoteAddr))

	if err := wire.Send(stream, wire.ReqLogin(info)); err != nil {
		_ = conn.CloseWithError(1, "login send failed")
		return nil, fmt.Errorf("sending login request: %w", err)
	}

	resp, err := wire.Recv(stream)
	if err != nil {
		_ = conn.CloseWithError(1, "login recv failed")
		return nil, fmt.Errorf("receiving login response: %w", err)
	}

	if resp.Kind == wire.KindRespFailure {
		_ = conn.CloseWithError(1, "login rejected")
		return nil, fmt.Errorf("%d:%s failed to login: %s", index, info.FormatWithRemoteAddr(prepared.RemoteAddr), resp.Failure)
	}
	if !resp.IsRespSuccess() {
		_ = conn.CloseWithError(1, "unexpected login response")
		return nil, fmt.Errorf("%d:%s unexpected response, failed to login", index, info.FormatWithRemoteAddr(prepared.RemoteAddr))
	}

	sink.Info("%d:%s login succeeded!", index, info.FormatWithRemoteAddr(prepared.RemoteAddr))
	return conn, nil
}
