package tlsconf

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCipher(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"TLS13_AES_128_GCM_SHA256", false},
		{"TLS13_AES_256_GCM_SHA384", false},
		{"TLS13_CHACHA20_POLY1305_SHA256", false},
		{"not-a-cipher", true},
		{"", true},
	}

	for _, c := range cases {
		_, err := ParseCipher(c.name)
		if c.wantErr {
			assert.Error(t, err, c.name)
		} else {
			assert.NoError(t, err, c.name)
		}
	}
}

func TestRequiredCipherSuitesAlwaysIncludesMandatorySuite(t *testing.T) {
	required := RequiredCipherSuites(tls.TLS_AES_256_GCM_SHA384)
	assert.Contains(t, required, uint16(tls.TLS_AES_128_GCM_SHA256))
	assert.Contains(t, required, uint16(tls.TLS_AES_256_GCM_SHA384))

	single := RequiredCipherSuites(tls.TLS_AES_128_GCM_SHA256)
	assert.Equal(t, []uint16{tls.TLS_AES_128_GCM_SHA256}, single)
}

func TestBuildHostnameUsesPlatformTrustStore(t *testing.T) {
	result, err := Build("example.com:3515", "", "TLS13_AES_256_GCM_SHA384")
	require.NoError(t, err)

	assert.Equal(t, "example.com", result.ServerName)
	assert.False(t, result.TLSConfig.InsecureSkipVerify)
	assert.Nil(t, result.TLSConfig.RootCAs)
}

func TestBuildLiteralAddrUsesInsecureVerifier(t *testing.T) {
	result, err := Build("127.0.0.1:3515", "", "TLS13_AES_256_GCM_SHA384")
	require.NoError(t, err)

	assert.Equal(t, "localhost", result.ServerName)
	assert.True(t, result.TLSConfig.InsecureSkipVerify)
}

func TestBuildWithCertPathPinsRoots(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certPath, []byte(testCertPEM), 0o600))

	result, err := Build("203.0.113.5:3515", certPath, "TLS13_AES_256_GCM_SHA384")
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.5", result.ServerName)
	assert.False(t, result.TLSConfig.InsecureSkipVerify)
	require.NotNil(t, result.TLSConfig.RootCAs)
}

func TestBuildRejectsEmptyCertFile(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(certPath, []byte("not a cert"), 0o600))

	_, err := Build("example.com:3515", certPath, "TLS13_AES_256_GCM_SHA384")
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr), "empty cert file must be a ConfigError")
}

func TestBuildRejectsInvalidCipher(t *testing.T) {
	_, err := Build("example.com:3515", "", "bogus")
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr), "bad cipher must be a ConfigError")
}

func TestBuildRejectsUnreadableCertFile(t *testing.T) {
	_, err := Build("example.com:3515", "/nonexistent/path/cert.pem", "TLS13_AES_256_GCM_SHA384")
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr), "unreadable cert file must be a ConfigError")
}

// testCertPEM is a self-signed certificate generated solely for exercising
// parsePEMCertificates; it is not used to terminate TLS anywhere.
const testCertPEM = `-----BEGIN CERTIFICATE-----
MIIBgjCCASegAwIBAgIUPn60Rif2w879nRZoDwfPa57ONzswCgYIKoZIzj0EAwIw
FjEUMBIGA1UEAwwLZXhhbXBsZS5jb20wHhcNMjYwODAxMDE0NzE4WhcNMzYwNzI5
MDE0NzE4WjAWMRQwEgYDVQQDDAtleGFtcGxlLmNvbTBZMBMGByqGSM49AgEGCCqG
SM49AwEHA0IABLq/Z8dXjI5ACs0Q25oR8HQou8eZIrBYCZvR7fdtqtMFIyOd5sZH
C99LP0sbDhmVFxBYOt4uThmQnLscJRAjlYujUzBRMB0GA1UdDgQWBBTx4FSFY+6r
MLNejENKkflDBBrfcjAfBgNVHSMEGDAWgBTx4FSFY+6rMLNejENKkflDBBrfcjAP
BgNVHRMBAf8EBTADAQH/MAoGCCqGSM49BAMCA0kAMEYCIQCW696/wscqs/16phEw
yZGE9XfzKJn/wYV+YPjFvxENSQIhAKMrvRJqF1IXOMHHSHJbW0I5L95s/zzQSu2n
PTh8R07s
-----END CERTIFICATE-----`
