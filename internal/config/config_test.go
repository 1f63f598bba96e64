package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New("secret", "example.com:3515", nil)

	assert.Equal(t, "TLS13_AES_256_GCM_SHA384", cfg.Cipher)
	assert.Equal(t, 30_000, cfg.QUICIdleTimeoutMs)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 0, cfg.HopIntervalSeconds)
}

func TestWithTunnelsDoesNotMutateOriginal(t *testing.T) {
	base := New("secret", "example.com:3515", nil)
	extended := base.WithTunnels([]TunnelConfig{{Mode: ModeOut, Upstream: UpstreamTCP, LocalServerAddr: "127.0.0.1:8080"}})

	assert.Empty(t, base.Tunnels)
	assert.Len(t, extended.Tunnels, 1)
}

func TestFromEnvLoadsTunnelsFile(t *testing.T) {
	dir := t.TempDir()
	tunnelsPath := filepath.Join(dir, "tunnels.json")
	require.NoError(t, os.WriteFile(tunnelsPath, []byte(`[
		{"mode":"out","upstream":"tcp","local_server_addr":"127.0.0.1:8080"}
	]`), 0o600))

	t.Setenv("RSTUNC_PASSWORD", "hunter2")
	t.Setenv("RSTUNC_SERVER_ADDR", "example.com:3515")
	t.Setenv("RSTUNC_TUNNELS_FILE", tunnelsPath)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Password)
	require.Len(t, cfg.Tunnels, 1)
	assert.Equal(t, ModeOut, cfg.Tunnels[0].Mode)
	assert.Equal(t, "127.0.0.1:8080", cfg.Tunnels[0].LocalServerAddr)
}

func TestFromEnvRejectsUnreadableTunnelsFile(t *testing.T) {
	t.Setenv("RSTUNC_TUNNELS_FILE", filepath.Join(t.TempDir(), "missing.json"))

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoginInfoFormatWithRemoteAddrHidesPassword(t *testing.T) {
	info := LoginInfo{
		Password: "s3cret",
		TunnelConfig: TunnelConfig{
			Mode:            ModeOut,
			LocalServerAddr: "127.0.0.1:8080",
		},
	}

	formatted := info.FormatWithRemoteAddr(addrStringer("203.0.113.1:3515"))
	assert.NotContains(t, formatted, "s3cret")
	assert.Contains(t, formatted, "127.0.0.1:8080")
	assert.Contains(t, formatted, "203.0.113.1:3515")
}

type addrStringer string

func (a addrStringer) String() string { return string(a) }
