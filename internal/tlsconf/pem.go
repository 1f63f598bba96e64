package tlsconf

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// parsePEMCertificates decodes every CERTIFICATE block in data. PEM
// loading stays on the standard library: no library in the corpus offers
// a "load a chain of certs from a PEM file" helper beyond what
// crypto/x509 and encoding/pem already provide directly, and this is a
// config-time, not data-plane, concern.
func parsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
