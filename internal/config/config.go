// Package config defines the client's configuration surface: the tunnel
// list, server address, TLS/cipher choice, timeouts, and the DNS ladder
// used to resolve it.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v7"
)

// TunnelMode is the direction of a tunnel relative to the client.
type TunnelMode string

const (
	// ModeOut accepts local TCP/UDP traffic and forwards it to the peer.
	ModeOut TunnelMode = "out"
	// ModeIn receives traffic from the peer and delivers it to a local
	// upstream service.
	ModeIn TunnelMode = "in"
)

// UpstreamType is the local transport carried by a tunnel.
type UpstreamType string

const (
	// UpstreamTCP carries TCP byte streams.
	UpstreamTCP UpstreamType = "tcp"
	// UpstreamUDP carries UDP datagrams.
	UpstreamUDP UpstreamType = "udp"
)

// DefaultServerPort is used when ClientConfig.ServerAddr has no port.
const DefaultServerPort = 3515

// TunnelConfig describes one logical forwarding path. LocalServerAddr is
// the local bind address for Out tunnels and the upstream dial target for
// In tunnels. Extra carries opaque fields forwarded verbatim to the peer
// during login.
type TunnelConfig struct {
	Mode            TunnelMode        `json:"mode"`
	Upstream        UpstreamType      `json:"upstream"`
	LocalServerAddr string            `json:"local_server_addr"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ClientConfig is immutable after construction; every TunnelWorker and the
// MigrationScheduler read it without synchronization.
type ClientConfig struct {
	Password string `env:"RSTUNC_PASSWORD"`

	ServerAddr string `env:"RSTUNC_SERVER_ADDR" envDefault:"127.0.0.1:3515"`
	CertPath   string `env:"RSTUNC_CERT_PATH"`
	Cipher     string `env:"RSTUNC_CIPHER" envDefault:"TLS13_AES_256_GCM_SHA384"`

	QUICIdleTimeoutMs int `env:"RSTUNC_QUIC_TIMEOUT_MS" envDefault:"30000"`
	// WaitBeforeRetryMs is surfaced in the connect log line only; the
	// original client never feeds it into its own retry timer either
	// (backoff there is computed independently), so the actual reconnect
	// delay is always the worker's exponential backoff in internal/retry.
	WaitBeforeRetryMs  int `env:"RSTUNC_WAIT_BEFORE_RETRY_MS" envDefault:"5000"`
	TCPTimeoutMs       int `env:"RSTUNC_TCP_TIMEOUT_MS" envDefault:"30000"`
	UDPTimeoutMs       int `env:"RSTUNC_UDP_TIMEOUT_MS" envDefault:"30000"`
	Workers            int `env:"RSTUNC_WORKERS" envDefault:"4"`
	HopIntervalSeconds int `env:"RSTUNC_HOP_INTERVAL_SECONDS" envDefault:"0"`

	DoTServers []string `env:"RSTUNC_DOT_SERVERS" envSeparator:","`
	DNSServers []string `env:"RSTUNC_DNS_SERVERS" envSeparator:","`

	// TunnelsFile points at a JSON file holding the []TunnelConfig list;
	// env vars don't nest, so the list lives out-of-band the same way
	// AdGuardDNS indexes its own list-shaped config inputs by path.
	TunnelsFile string `env:"RSTUNC_TUNNELS_FILE"`

	Tunnels []TunnelConfig `env:"-" json:"-"`
}

// New builds a ClientConfig programmatically, for embedders that don't
// want to go through the environment.
func New(password, serverAddr string, tunnels []TunnelConfig) *ClientConfig {
	return &ClientConfig{
		Password:           password,
		ServerAddr:         serverAddr,
		Cipher:             "TLS13_AES_256_GCM_SHA384",
		QUICIdleTimeoutMs:  30_000,
		WaitBeforeRetryMs:  5_000,
		TCPTimeoutMs:       30_000,
		UDPTimeoutMs:       30_000,
		Workers:            4,
		HopIntervalSeconds: 0,
		Tunnels:            tunnels,
	}
}

// FromEnv loads a ClientConfig from the process environment, then loads
// the tunnel list from TunnelsFile if one is set.
func FromEnv() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.TunnelsFile != "" {
		tunnels, err := loadTunnelsFile(cfg.TunnelsFile)
		if err != nil {
			return nil, fmt.Errorf("loading tunnels file %q: %w", cfg.TunnelsFile, err)
		}
		cfg.Tunnels = tunnels
	}

	return cfg, nil
}

func loadTunnelsFile(path string) ([]TunnelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tunnels []TunnelConfig
	if err := json.Unmarshal(data, &tunnels); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	return tunnels, nil
}

// WithTunnels returns a shallow copy of cfg with Tunnels replaced. Useful
// for tests and for embedders building config incrementally.
func (c *ClientConfig) WithTunnels(tunnels []TunnelConfig) *ClientConfig {
	clone := *c
	clone.Tunnels = tunnels
	return &clone
}
