package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
)

// insecureWarnOnce guards the one-shot "connecting without verification"
// banner across every Client instance in the process (spec §5: "the
// insecure-verifier warning is emitted at most once per process").
var insecureWarnOnce sync.Once

// Result is the outcome of Build: the *tls.Config to hand to
// quic-go and the server name to present in the ClientHello / validate
// against the certificate.
type Result struct {
	TLSConfig  *tls.Config
	ServerName string
}

// ConfigError marks a TLS configuration failure as a misconfiguration
// rather than a transient connect failure: an unparseable cipher, an
// unreadable cert file, or an empty cert file (spec §7/§8, "fatal for the
// tunnel; logged and the worker exits"). Callers distinguish it with
// errors.As instead of retrying it with backoff.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Build selects platform-trust, pinned-roots, or insecure verification
// per spec §4.4, based on whether a cert path is configured and whether
// serverAddr is a hostname or a literal socket address.
func Build(serverAddr, certPath, cipherName string) (Result, error) {
	selected, err := ParseCipher(cipherName)
	if err != nil {
		return Result{}, &ConfigError{Err: err}
	}
	suites := RequiredCipherSuites(selected)
	_ = suites // informational only; see RequiredCipherSuites doc.

	host := hostPart(serverAddr)

	if certPath == "" {
		if !isLiteralAddr(serverAddr) {
			return Result{
				TLSConfig:  &tls.Config{MinVersion: tls.VersionTLS13},
				ServerName: host,
			}, nil
		}

		insecureWarnOnce.Do(func() {
			log.Info("=== WARNING: connecting without certificate verification ===")
			log.Info("provide a certificate for verification or connect with a domain name")
			log.Info("this is for TEST use only")
		})

		return Result{
			TLSConfig: &tls.Config{
				MinVersion:         tls.VersionTLS13,
				InsecureSkipVerify: true,
			},
			ServerName: "localhost",
		}, nil
	}

	certs, err := loadCertificatesFromPEM(certPath)
	if err != nil {
		return Result{}, &ConfigError{Err: errors.Annotate(err, "failed to read from cert file: %w")}
	}
	if len(certs) == 0 {
		return Result{}, &ConfigError{Err: errors.Error(fmt.Sprintf("no certificates found in provided file: %s", certPath))}
	}

	roots := x509.NewCertPool()
	for _, cert := range certs {
		roots.AddCert(cert)
	}

	return Result{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
			RootCAs:    roots,
		},
		ServerName: host,
	}, nil
}

// hostPart strips a trailing ":port" from addr, same logic the original
// client uses so IP-SAN certificates (host == literal IP) keep working.
func hostPart(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

// isLiteralAddr reports whether addr parses as host:port with a literal
// IP host (as opposed to a DNS hostname).
func isLiteralAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host) != nil
}

// loadCertificatesFromPEM reads every PEM-encoded certificate block from
// path. An empty file (no PEM blocks) is distinguished from a missing
// file by the caller: os.ReadFile fails first for a missing path.
func loadCertificatesFromPEM(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePEMCertificates(data)
}
