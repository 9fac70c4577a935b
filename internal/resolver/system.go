package resolver

import (
	"context"
	"net"

	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/model"
)

// NewSystemResolver returns the resolver using getaddrinfo or the Go
// stub resolver, depending on how the standard library is configured.
func NewSystemResolver(logger model.Logger) model.Resolver {
	return wrap(logger, &resolverSystem{lookupIP: net.DefaultResolver.LookupIP})
}

// resolverSystem resolves IPv4 addresses using the standard library.
type resolverSystem struct {
	lookupIP func(ctx context.Context, network, host string) ([]net.IP, error)
}

var _ model.Resolver = &resolverSystem{}

func (r *resolverSystem) LookupHost(ctx context.Context, domain string) ([]string, error) {
	if addrs, isLiteral, err := ipv4Literal(domain); isLiteral {
		return addrs, err
	}
	ips, err := r.lookupIP(ctx, "ip4", domain)
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, ip := range ips {
		if ipv4 := ip.To4(); ipv4 != nil {
			addrs = append(addrs, ipv4.String())
		}
	}
	if len(addrs) < 1 {
		return nil, errorsx.ErrDNSNoAnswer
	}
	return addrs, nil
}

func (r *resolverSystem) Network() string {
	return "system"
}

func (r *resolverSystem) Address() string {
	return ""
}
