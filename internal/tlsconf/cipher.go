// Package tlsconf builds the client TLS configuration: cipher suite
// selection and the platform-trust / pinned-roots / insecure verifier
// strategy described in spec §4.4.
package tlsconf

import (
	"crypto/tls"
	"fmt"
)

// cipherSuites maps the configured cipher identifier to its TLS 1.3 suite
// ID. TLS13_AES_128_GCM_SHA256 is always appended by RequiredCipherSuites
// because the QUIC layer requires it regardless of which suite is
// selected here.
var cipherSuites = map[string]uint16{
	"TLS13_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS13_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS13_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,
}

// ParseCipher resolves a cipher identifier to its TLS suite ID.
func ParseCipher(name string) (uint16, error) {
	id, ok := cipherSuites[name]
	if !ok {
		return 0, fmt.Errorf("invalid cipher: %s", name)
	}
	return id, nil
}

// RequiredCipherSuites returns the configured suite plus the suite the
// QUIC layer assumes is always present.
//
// Go's standard crypto/tls does not let a client pin which TLS 1.3 cipher
// suite gets negotiated (tls.Config.CipherSuites only affects TLS 1.2);
// quic-go builds directly on crypto/tls for its handshake. The pair
// returned here is therefore informational only: Build computes it and
// discards it, and it is neither logged nor enforced suite-by-suite the
// way rustls's CryptoProvider allows. Rejecting an unrecognized
// identifier is ParseCipher's job.
func RequiredCipherSuites(selected uint16) []uint16 {
	const required = tls.TLS_AES_128_GCM_SHA256
	if selected == required {
		return []uint16{selected}
	}
	return []uint16{selected, required}
}
