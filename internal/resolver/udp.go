package resolver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/model"
)

// udpTimeout is the maximum time we wait for a DNS-over-UDP response.
const udpTimeout = 5 * time.Second

// ErrDNSIsQuery indicates that we received a query rather than a response.
var ErrDNSIsQuery = errors.New("resolver: expected response but received query")

// NewUDPResolver returns a DNS-over-UDP resolver sending A queries to
// the given address, which MUST include the port (e.g., "8.8.8.8:53").
func NewUDPResolver(logger model.Logger, address string) model.Resolver {
	return wrap(logger, &resolverUDP{
		address: address,
		dialer:  &net.Dialer{},
	})
}

// resolverUDP is a DNS-over-UDP resolver for A records.
type resolverUDP struct {
	address string
	dialer  *net.Dialer
}

var _ model.Resolver = &resolverUDP{}

func (r *resolverUDP) LookupHost(ctx context.Context, domain string) ([]string, error) {
	if addrs, isLiteral, err := ipv4Literal(domain); isLiteral {
		return addrs, err
	}
	query := encodeQueryA(domain)
	rawQuery, err := query.Pack()
	if err != nil {
		return nil, err
	}
	conn, err := r.dialer.DialContext(ctx, "udp", r.address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	deadline := time.Now().Add(udpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()
	if _, err := conn.Write(rawQuery); err != nil {
		return nil, err
	}
	buffer := make([]byte, 1<<17)
	count, err := conn.Read(buffer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return decodeResponseA(query, buffer[:count])
}

func (r *resolverUDP) Network() string {
	return "udp"
}

func (r *resolverUDP) Address() string {
	return r.address
}

// encodeQueryA builds a recursive A query for domain.
func encodeQueryA(domain string) *dns.Msg {
	query := new(dns.Msg)
	query.Id = dns.Id()
	query.RecursionDesired = true
	query.Question = []dns.Question{{
		Name:   dns.Fqdn(domain),
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}
	return query
}

// decodeResponseA parses the raw response and extracts A records.
func decodeResponseA(query *dns.Msg, rawResp []byte) ([]string, error) {
	resp := new(dns.Msg)
	if err := resp.Unpack(rawResp); err != nil {
		return nil, err
	}
	if !resp.Response {
		return nil, ErrDNSIsQuery
	}
	if resp.Id != query.Id {
		return nil, errorsx.ErrDNSReplyWithWrongQueryID
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, errorsx.ErrDNSNoSuchHost
	case dns.RcodeRefused:
		return nil, errorsx.ErrDNSRefused
	default:
		return nil, errorsx.ErrDNSMisbehaving
	}
	var addrs []string
	for _, answer := range resp.Answer {
		if record, ok := answer.(*dns.A); ok {
			addrs = append(addrs, record.A.String())
		}
	}
	if len(addrs) < 1 {
		return nil, errorsx.ErrDNSNoAnswer
	}
	return addrs, nil
}
