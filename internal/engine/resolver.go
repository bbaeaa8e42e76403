package engine

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Resolver turns a candidate into addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

func SystemResolver() Resolver {
	return net.DefaultResolver
}

// DNSResolver sends A/AAAA queries straight to one upstream server,
// bypassing the system resolver and the hosts file it reads.
type DNSResolver struct {
	server string
	client *dns.Client
}

func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	return &DNSResolver{
		server: normalizeDNSServer(server),
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (r *DNSResolver) Server() string { return r.server }

func (r *DNSResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}

	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	// One family failing, such as a filtering upstream that drops AAAA,
	// must not discard the other family's answers.
	var out []netip.Addr
	var errs error
	for _, qt := range qtypes {
		addrs, err := r.query(ctx, host, qt)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return nil, err
			}
			errs = multierror.Append(errs, err)
			continue
		}
		out = append(out, addrs...)
	}
	if len(out) == 0 {
		if errs != nil {
			return nil, errs
		}
		return nil, &net.DNSError{Err: "no addresses found", Name: host, Server: r.server, IsNotFound: true}
	}
	return out, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s %s via %s", host, dns.TypeToString[qtype], r.server)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       host,
			Server:     r.server,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		}
	}

	var out []netip.Addr
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(v.A); ok {
				out = append(out, ip.Unmap())
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(v.AAAA); ok {
				out = append(out, ip)
			}
		}
	}
	return out, nil
}

func normalizeDNSServer(server string) string {
	server = strings.TrimSpace(server)
	if server == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	if ip, err := netip.ParseAddr(server); err == nil {
		return net.JoinHostPort(ip.String(), "53")
	}
	return net.JoinHostPort(server, "53")
}
