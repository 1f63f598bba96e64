// Package resolve implements the AddressResolver ladder of spec §4.5:
// literal address short-circuit, then DoT servers, then configured plain
// DNS servers, then system DNS.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/miekg/dns"

	"github.com/rstunc/rstunc/internal/config"
)

const queryTimeout = 3 * time.Second

// Resolve turns serverAddr ("host[:port]" or a literal socket address)
// into a concrete *net.UDPAddr, short-circuiting on the first successful
// strategy.
func Resolve(ctx context.Context, serverAddr string, cfg *config.ClientConfig) (*net.UDPAddr, error) {
	if ap, err := netip.ParseAddrPort(serverAddr); err == nil {
		return net.UDPAddrFromAddrPort(ap), nil
	}

	host, port, err := splitHostPort(serverAddr)
	if err != nil {
		return nil, err
	}

	for _, dot := range cfg.DoTServers {
		if ip, err := lookupDoT(ctx, host, dot); err == nil {
			return &net.UDPAddr{IP: ip, Port: port}, nil
		}
	}

	if len(cfg.DNSServers) > 0 {
		if ip, err := lookupPlainDNS(ctx, host, cfg.DNSServers); err == nil {
			return &net.UDPAddr{IP: ip, Port: port}, nil
		}
	}

	if ip, err := lookupSystemDNS(ctx, host); err == nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	return nil, fmt.Errorf("failed to resolve domain: %s", host)
}

func splitHostPort(addr string) (host string, port int, err error) {
	host = addr
	port = config.DefaultServerPort

	idx := lastColon(addr)
	if idx < 0 {
		return host, port, nil
	}

	p, perr := strconv.Atoi(addr[idx+1:])
	if perr != nil {
		return "", 0, fmt.Errorf("invalid address: %s", addr)
	}
	return addr[:idx], p, nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// lookupDoT resolves host via DNS-over-TLS against dotServer
// ("host[:853]"), preferring AAAA then A. The two queries run one after
// the other against this single server; no per-server query statistics
// are kept, and DoT queries are not run concurrently.
func lookupDoT(ctx context.Context, host, dotServer string) (net.IP, error) {
	server := dotServer
	if _, _, err := net.SplitHostPort(dotServer); err != nil {
		server = net.JoinHostPort(dotServer, "853")
	}

	client := &dns.Client{
		Net:         "tcp-tls",
		Timeout:     queryTimeout,
		DialTimeout: queryTimeout,
	}

	if ip, err := queryA(ctx, client, server, host, dns.TypeAAAA); err == nil {
		return ip, nil
	}
	return queryA(ctx, client, server, host, dns.TypeA)
}

// lookupPlainDNS races the configured name servers (up to 3 concurrently,
// per spec §4.5) and returns the first successful answer.
func lookupPlainDNS(ctx context.Context, host string, servers []string) (net.IP, error) {
	client := &dns.Client{Net: "udp", Timeout: queryTimeout}

	type result struct {
		ip  net.IP
		err error
	}

	const maxConcurrent = 3
	results := make(chan result, len(servers))
	sem := make(chan struct{}, maxConcurrent)

	for _, s := range servers {
		server := ensurePort(s, "53")
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			ip, err := queryA(ctx, client, server, host, dns.TypeAAAA)
			if err != nil {
				ip, err = queryA(ctx, client, server, host, dns.TypeA)
			}
			results <- result{ip, err}
		}()
	}

	var lastErr error
	for range servers {
		r := <-results
		if r.err == nil {
			return r.ip, nil
		}
		lastErr = r.err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no dns servers configured")
	}
	return nil, lastErr
}

// lookupSystemDNS falls back to the host's resolver configuration.
func lookupSystemDNS(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses found for %s", host)
	}
	return preferIPv6(ips), nil
}

func preferIPv6(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() == nil {
			return ip
		}
	}
	return ips[0]
}

func queryA(ctx context.Context, client *dns.Client, server, host string, qtype uint16) (net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)

	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.AAAA:
			return rec.AAAA, nil
		case *dns.A:
			return rec.A, nil
		}
	}
	return nil, fmt.Errorf("no records for %s", host)
}

func ensurePort(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}
