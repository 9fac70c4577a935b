// Package resolver contains the IPv4 resolvers used by the client provider.
//
// Every resolver returned by this package wraps errors using
// [errorsx.ErrWrapper] with the resolve operation and logs its
// progress using the given [model.Logger].
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/model"
	"golang.org/x/net/idna"
)

// ErrUnsupportedURL indicates that we cannot build a resolver for the given URL.
var ErrUnsupportedURL = errors.New("resolver: unsupported URL")

// NewFromURL creates a resolver from a URL. We support "system:///" and
// "udp://<address>", where address MUST contain the port.
func NewFromURL(logger model.Logger, URL string) (model.Resolver, error) {
	parsed, err := url.Parse(URL)
	if err != nil {
		return nil, err
	}
	switch parsed.Scheme {
	case "system":
		return NewSystemResolver(logger), nil
	case "udp":
		if _, _, err := net.SplitHostPort(parsed.Host); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, err.Error())
		}
		return NewUDPResolver(logger, parsed.Host), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, URL)
	}
}

// wrap decorates a resolver with logging and error wrapping.
func wrap(logger model.Logger, reso model.Resolver) model.Resolver {
	return &resolverLogger{
		Resolver: &resolverErrWrapper{&resolverIDNA{reso}},
		Logger:   model.ValidLoggerOrDefault(logger),
	}
}

// resolverLogger is a resolver that emits events
type resolverLogger struct {
	Resolver model.Resolver
	Logger   model.DebugLogger
}

var _ model.Resolver = &resolverLogger{}

func (r *resolverLogger) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	prefix := fmt.Sprintf("resolve[A] %s with %s (%s)", hostname, r.Network(), r.Address())
	r.Logger.Debugf("%s...", prefix)
	start := time.Now()
	addrs, err := r.Resolver.LookupHost(ctx, hostname)
	elapsed := time.Since(start)
	if err != nil {
		r.Logger.Debugf("%s... %s in %s", prefix, err, elapsed)
		return nil, err
	}
	r.Logger.Debugf("%s... %+v in %s", prefix, addrs, elapsed)
	return addrs, nil
}

func (r *resolverLogger) Network() string {
	return r.Resolver.Network()
}

func (r *resolverLogger) Address() string {
	return r.Resolver.Address()
}

// resolverErrWrapper is a Resolver that knows about wrapping errors.
type resolverErrWrapper struct {
	Resolver model.Resolver
}

var _ model.Resolver = &resolverErrWrapper{}

func (r *resolverErrWrapper) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	addrs, err := r.Resolver.LookupHost(ctx, hostname)
	if err != nil {
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyResolverError, errorsx.ResolveOperation, err)
	}
	return addrs, nil
}

func (r *resolverErrWrapper) Network() string {
	return r.Resolver.Network()
}

func (r *resolverErrWrapper) Address() string {
	return r.Resolver.Address()
}

// resolverIDNA supports resolving Internationalized Domain Names.
//
// See RFC3492 for more information.
type resolverIDNA struct {
	Resolver model.Resolver
}

var _ model.Resolver = &resolverIDNA{}

func (r *resolverIDNA) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	host, err := idna.ToASCII(hostname)
	if err != nil {
		return nil, err
	}
	return r.Resolver.LookupHost(ctx, host)
}

func (r *resolverIDNA) Network() string {
	return r.Resolver.Network()
}

func (r *resolverIDNA) Address() string {
	return r.Resolver.Address()
}

// ipv4Literal returns the domain itself when it is an IPv4 address
// literal. The second return value is false when domain is not an IP
// address. An IPv6 literal causes an error because we resolve IPv4 only.
func ipv4Literal(domain string) ([]string, bool, error) {
	ip := net.ParseIP(domain)
	switch {
	case ip == nil:
		return nil, false, nil
	case ip.To4() == nil:
		return nil, true, errorsx.ErrDNSNoAnswer
	default:
		return []string{domain}, true, nil
	}
}
