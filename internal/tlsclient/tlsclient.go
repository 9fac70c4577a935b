// Package tlsclient contains the client TLS connection provider.
//
// The provider resolves the configured host to an IPv4 address, connects
// a raw stream socket and performs the TLS handshake using the host as
// the SNI and for verifying the server certificate. GetConnection does
// that synchronously. GetConnectionAsync runs the same steps as a
// suspendable state machine driven by an [async.Scheduler].
package tlsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ooni/tlsprovider/internal/async"
	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/metricsx"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/resolver"
	"github.com/ooni/tlsprovider/internal/tlsconfig"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"github.com/ooni/tlsprovider/internal/tlslock"
	"golang.org/x/net/idna"
	"golang.org/x/sys/unix"
)

// ErrInvalidHost indicates that the host is not a valid domain name.
var ErrInvalidHost = errors.New("tlsclient: invalid host")

// Provider is the client connection provider. The zero value is
// invalid; please, use [New] to construct.
type Provider struct {
	config   *cryptox.Config
	host     string
	logger   model.Logger
	port     uint16
	resolver model.Resolver

	// serverName is the ASCII form of host, used for resolving, as the
	// SNI, and for verifying the server certificate.
	serverName string
}

var _ model.ConnectionProvider = &Provider{}

// Option is an option for [New].
type Option func(p *Provider)

// WithLogger sets the logger. The default is [model.DiscardLogger].
func WithLogger(logger model.Logger) Option {
	return func(p *Provider) {
		p.logger = model.ValidLoggerOrDefault(logger)
	}
}

// WithResolver sets the resolver. The default is the system resolver.
func WithResolver(reso model.Resolver) Option {
	return func(p *Provider) {
		p.resolver = reso
	}
}

// New creates a new [*Provider] connecting to the given host and port
// using the given config. The config MUST NOT be modified afterwards.
//
// The host may be an internationalized domain name, which we convert
// to its ASCII form. On failure, the returned error is an
// [*errorsx.ErrWrapper] of kind [errorsx.ErrConfiguration] wrapping
// [ErrInvalidHost].
func New(config *cryptox.Config, host string, port uint16, options ...Option) (*Provider, error) {
	serverName, err := serverNameFromHost(host)
	if err != nil {
		return nil, errorsx.NewErrWrapper(classifyHostError, errorsx.ConfigureOperation, err)
	}
	p := &Provider{
		config:     config,
		host:       host,
		logger:     model.DiscardLogger,
		port:       port,
		resolver:   nil,
		serverName: serverName,
	}
	for _, option := range options {
		option(p)
	}
	if p.resolver == nil {
		p.resolver = resolver.NewSystemResolver(p.logger)
	}
	tlslock.WarnIfNotInstalled(p.logger)
	return p, nil
}

func classifyHostError(err error) string {
	if errors.Is(err, ErrInvalidHost) {
		return errorsx.FailureInvalidHost
	}
	return errorsx.ClassifyGenericError(err)
}

// serverNameFromHost returns the ASCII form of host. IP addresses
// are returned unchanged.
func serverNameFromHost(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	serverName, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidHost, err.Error())
	}
	if serverName == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidHost)
	}
	return serverName, nil
}

// Property implements model.ConnectionProvider.
func (p *Provider) Property(name string) string {
	switch name {
	case model.ProviderPropertyHost:
		return p.host
	case model.ProviderPropertyPort:
		return strconv.Itoa(int(p.port))
	default:
		return ""
	}
}

// Close implements model.ConnectionProvider. A client provider does
// not own any resource, so this function is a no-op.
func (p *Provider) Close() error {
	return nil
}

// GetConnection implements model.ConnectionProvider.
func (p *Provider) GetConnection(ctx context.Context) (model.Stream, error) {
	conn, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect establishes a new TLS connection using a blocking socket. On
// failure, the returned error is an [*errorsx.ErrWrapper] telling which
// operation failed, and no socket or TLS context is left open.
func (p *Provider) Connect(ctx context.Context) (*tlsconn.Connection, error) {
	t0 := time.Now()
	conn, err := p.connect(ctx)
	metricsx.ObserveHandshake(metricsx.SideClient, t0, err)
	return conn, err
}

func (p *Provider) connect(ctx context.Context) (*tlsconn.Connection, error) {
	addr, sock, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := p.endpoint(addr)
	p.logger.Debugf("dial %s/tcp...", endpoint)
	start := time.Now()
	if err := sock.ConnectBlocking(addr); err != nil {
		sock.Close()
		p.logger.Debugf("dial %s/tcp... %s in %s", endpoint, err, time.Since(start))
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.ConnectOperation, err)
	}
	p.logger.Debugf("dial %s/tcp... ok in %s", endpoint, time.Since(start))

	tlsctx, err := newClientContext(p.config)
	if err != nil {
		sock.Close()
		return nil, err
	}

	p.logger.Debugf("tls {sni=%s}...", p.serverName)
	start = time.Now()
	if err := tlsctx.ConnectSocketContext(ctx, sock, p.serverName); err != nil {
		p.logger.Errorf("tls {sni=%s}... %s in %s", p.serverName, tlsctx.Error(), time.Since(start))
		tlsctx.Close()
		sock.Close()
		tlsctx.Free()
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyTLSHandshakeError, errorsx.TLSHandshakeOperation, err)
	}
	p.logger.Debugf("tls {sni=%s}... ok in %s", p.serverName, time.Since(start))

	return tlsconn.New(p.logger, tlsctx, sock), nil
}

// GetConnectionAsync establishes a new TLS connection using a non-blocking
// socket and returns a future completed with the connection. The connect
// and the handshake never block the goroutine in which the scheduler
// runs the state machine. When ctx is done, the scheduler interrupts the
// state machine, which releases all the resources it holds.
func (p *Provider) GetConnectionAsync(ctx context.Context, sched *async.Scheduler) *async.Future[*tlsconn.Connection] {
	co, err := p.newConnectCoroutine(ctx)
	if err != nil {
		metricsx.ObserveHandshake(metricsx.SideClient, time.Now(), err)
		return async.FailedFuture[*tlsconn.Connection](err)
	}
	return async.Start[*tlsconn.Connection](ctx, sched, co)
}

// newConnectCoroutine performs the steps preceding the connect, none of
// which is a suspension point, and returns the state machine.
func (p *Provider) newConnectCoroutine(ctx context.Context) (*connectCoroutine, error) {
	t0 := time.Now()
	addr, sock, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}
	if err := sock.SetNonblock(true); err != nil {
		sock.Close()
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.SocketOperation, err)
	}
	p.logger.Debugf("dial %s/tcp...", p.endpoint(addr))
	co := &connectCoroutine{
		addr:   addr,
		config: p.config,
		conn:   nil,
		err:    nil,
		host:   p.serverName,
		logger: p.logger,
		sock:   sock,
		state:  stateConnecting,
		t0:     t0,
		tlsctx: nil,
	}
	return co, nil
}

// prepare resolves the host and creates the socket.
func (p *Provider) prepare(ctx context.Context) (*unix.SockaddrInet4, *netsock.Socket, error) {
	addr, err := p.resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	sock, err := netsock.NewStream4()
	if err != nil {
		return nil, nil, errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.SocketOperation, err)
	}
	if err := sock.SetNoSigpipe(); err != nil {
		p.logger.Warnf("tlsclient: cannot disable SIGPIPE: %s", err.Error())
	}
	return addr, sock, nil
}

// resolve returns the first IPv4 address of the host.
func (p *Provider) resolve(ctx context.Context) (*unix.SockaddrInet4, error) {
	addrs, err := p.resolver.LookupHost(ctx, p.serverName)
	if err != nil {
		var wrapper *errorsx.ErrWrapper
		if errors.As(err, &wrapper) && wrapper.Operation == errorsx.ResolveOperation {
			return nil, wrapper
		}
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyResolverError, errorsx.ResolveOperation, err)
	}
	for _, addr := range addrs {
		if ipv4 := net.ParseIP(addr).To4(); ipv4 != nil {
			sa := &unix.SockaddrInet4{Port: int(p.port)}
			copy(sa.Addr[:], ipv4)
			return sa, nil
		}
	}
	return nil, errorsx.NewErrWrapper(
		errorsx.ClassifyResolverError, errorsx.ResolveOperation, errorsx.ErrDNSNoAnswer)
}

func (p *Provider) endpoint(addr *unix.SockaddrInet4) string {
	ip := net.IP(addr.Addr[:])
	return net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port))
}

// newClientContext creates and configures a client TLS context.
func newClientContext(config *cryptox.Config) (*cryptox.Context, error) {
	tlsctx := cryptox.NewClient()
	if err := tlsctx.Configure(config); err != nil {
		tlsctx.Free()
		return nil, errorsx.NewErrWrapper(tlsconfig.ClassifyConfigError, errorsx.ConfigureOperation, err)
	}
	return tlsctx, nil
}

// String implements fmt.Stringer.
func (p *Provider) String() string {
	return fmt.Sprintf("tlsclient{%s}", net.JoinHostPort(p.host, strconv.Itoa(int(p.port))))
}
