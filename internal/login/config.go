// Package login builds the per-connect LoginConfig (spec §4.4): the local
// bind address, resolved remote address, quic.Config/tls.Config pair, and
// the login handshake itself (spec §4.3).
package login

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/resolve"
	"github.com/rstunc/rstunc/internal/tlsconf"
)

const (
	streamReceiveWindow     = 1 << 20       // 1 MiB
	connReceiveWindow       = 2 * (1 << 20) // 2 MiB
	maxConcurrentBidiStream = 1024
)

// PreparedLoginConfig is everything a TunnelWorker needs to open a QUIC
// endpoint and dial the peer.
type PreparedLoginConfig struct {
	LocalAddr  *net.UDPAddr
	RemoteAddr *net.UDPAddr
	QUICConfig *quic.Config
	TLSConfig  *tls.Config
	ServerName string
}

// Build resolves the server address and assembles the QUIC transport and
// TLS configuration per spec §4.4. The returned local address is
// unspecified (port 0) and matches the remote's IP family.
//
// quic-go's congestion controller is not pluggable through its public
// Config (unlike quinn's congestion::BbrConfig); BBR selection from the
// original spec is therefore a documented no-op here rather than a wired
// knob — see DESIGN.md's internal/login entry.
func Build(ctx context.Context, cfg *config.ClientConfig) (*PreparedLoginConfig, error) {
	remoteAddr, err := resolve.Resolve(ctx, cfg.ServerAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolving server address: %w", err)
	}

	tlsResult, err := tlsconf.Build(cfg.ServerAddr, cfg.CertPath, cfg.Cipher)
	if err != nil {
		return nil, err
	}
	tlsResult.TLSConfig.NextProtos = []string{"rstun"}
	tlsResult.TLSConfig.ServerName = tlsResult.ServerName

	quicCfg := &quic.Config{
		InitialStreamReceiveWindow:     streamReceiveWindow,
		MaxStreamReceiveWindow:         streamReceiveWindow,
		InitialConnectionReceiveWindow: connReceiveWindow,
		MaxConnectionReceiveWindow:     connReceiveWindow,
		MaxIncomingStreams:             maxConcurrentBidiStream,
		EnableDatagrams:                true,
	}

	if cfg.QUICIdleTimeoutMs > 0 {
		idle := time.Duration(cfg.QUICIdleTimeoutMs) * time.Millisecond
		quicCfg.MaxIdleTimeout = idle
		quicCfg.KeepAlivePeriod = idle * 2 / 3
	}

	return &PreparedLoginConfig{
		LocalAddr:  unspecifiedMatching(remoteAddr),
		RemoteAddr: remoteAddr,
		QUICConfig: quicCfg,
		TLSConfig:  tlsResult.TLSConfig,
		ServerName: tlsResult.ServerName,
	}, nil
}

// unspecifiedMatching returns ":0" on the address family matching addr,
// the same "bind local of the right family" step the original client
// performs before opening the endpoint.
func unspecifiedMatching(addr *net.UDPAddr) *net.UDPAddr {
	if addr.IP.To4() != nil {
		return &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	}
	return &net.UDPAddr{IP: net.IPv6zero, Port: 0}
}
