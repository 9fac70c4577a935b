// Package tlsserver contains the server TLS connection provider.
//
// The provider listens on the wildcard address of a dual-stack socket
// and produces a Connection for each client completing the handshake.
// AcceptOnce never blocks waiting for clients: it returns a nil
// Connection when there is no pending client or the client fails the
// handshake. Serve runs accept loops that wait for listener readiness.
package tlsserver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ooni/tlsprovider/internal/async"
	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/metricsx"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/tlsconfig"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"github.com/ooni/tlsprovider/internal/tlslock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// DefaultBacklog is the default listen backlog.
const DefaultBacklog = 10000

// Provider is the server connection provider. The zero value is
// invalid; please, use [New] to construct.
type Provider struct {
	backlog     int
	closeErr    error
	closeOnce   sync.Once
	closed      atomic.Bool
	listener    *netsock.Listener
	logger      model.Logger
	nonBlocking bool
	serverCtx   *cryptox.Context
}

var _ model.ConnectionProvider = &Provider{}

// Option is an option for [New].
type Option func(p *Provider)

// WithBacklog sets the listen backlog. The default is [DefaultBacklog]. The
// backlog is always capped to the system maximum.
func WithBacklog(backlog int) Option {
	return func(p *Provider) {
		p.backlog = backlog
	}
}

// WithLogger sets the logger. The default is [model.DiscardLogger].
func WithLogger(logger model.Logger) Option {
	return func(p *Provider) {
		p.logger = model.ValidLoggerOrDefault(logger)
	}
}

// New creates a new [*Provider] listening on the given port, where zero means
// an ephemeral port. When nonBlocking is true, the produced connections use
// non-blocking sockets. The config MUST contain a key pair. On failure, the
// returned error is an [*errorsx.ErrWrapper] of kind [errorsx.ErrConfiguration]
// and no listening socket is left open.
func New(config *cryptox.Config, port uint16, nonBlocking bool, options ...Option) (*Provider, error) {
	p := &Provider{
		backlog:     DefaultBacklog,
		logger:      model.DiscardLogger,
		nonBlocking: nonBlocking,
	}
	for _, option := range options {
		option(p)
	}
	tlslock.WarnIfNotInstalled(p.logger)

	listener, err := netsock.Listen6(port, p.backlog)
	if err != nil {
		return nil, errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.ListenOperation, err)
	}
	for _, warning := range listener.Warnings() {
		p.logger.Warnf("tlsserver: %s", warning.Error())
	}
	if !listener.IPv6() {
		p.logger.Warnf("tlsserver: IPv6 not available; listening on 0.0.0.0:%d only", listener.Port())
	}

	serverCtx := cryptox.NewServer()
	if err := serverCtx.Configure(config); err != nil {
		serverCtx.Free()
		listener.Close()
		return nil, errorsx.NewErrWrapper(tlsconfig.ClassifyConfigError, errorsx.ConfigureOperation, err)
	}

	p.listener = listener
	p.serverCtx = serverCtx
	p.logger.Infof("tlsserver: listening on port %d", listener.Port())
	return p, nil
}

// Port returns the port we're bound to.
func (p *Provider) Port() uint16 {
	return p.listener.Port()
}

// Property implements model.ConnectionProvider.
func (p *Provider) Property(name string) string {
	switch name {
	case model.ProviderPropertyHost:
		return "localhost"
	case model.ProviderPropertyPort:
		return strconv.Itoa(int(p.Port()))
	default:
		return ""
	}
}

// GetConnection implements model.ConnectionProvider.
func (p *Provider) GetConnection(ctx context.Context) (model.Stream, error) {
	conn, err := p.AcceptOnce(ctx)
	if err != nil || conn == nil {
		return nil, err
	}
	return conn, nil
}

// AcceptOnce accepts at most one pending client and performs the handshake
// synchronously. It returns a nil Connection and a nil error when there is
// no pending client or when accepting or handshaking fails. The only error
// returned is net.ErrClosed, after the provider has been closed.
func (p *Provider) AcceptOnce(ctx context.Context) (*tlsconn.Connection, error) {
	if p.closed.Load() {
		return nil, net.ErrClosed
	}
	sock, err := p.listener.Accept()
	switch {
	case err == nil:
	case netsock.IsWouldBlock(err):
		return nil, nil
	case errors.Is(err, net.ErrClosed):
		return nil, net.ErrClosed
	case errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED):
		p.logger.Debugf("tlsserver: accept: %s", err.Error())
		metricsx.AcceptErrorsTotal.Inc()
		return nil, nil
	default:
		err = errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.AcceptOperation, err)
		p.logger.Warnf("tlsserver: accept: %s", err.Error())
		metricsx.AcceptErrorsTotal.Inc()
		return nil, nil
	}

	if err := sock.SetNoSigpipe(); err != nil {
		p.logger.Warnf("tlsserver: cannot disable SIGPIPE: %s", err.Error())
	}
	if err := sock.SetNonblock(p.nonBlocking); err != nil {
		p.logger.Warnf("tlsserver: setnonblock: %s", err.Error())
		sock.Close()
		return nil, nil
	}

	remote := sock.RemoteAddr()
	t0 := time.Now()
	cctx, err := p.serverCtx.AcceptSocket(sock)
	if err != nil {
		p.logger.Errorf("tlsserver: accept_socket %s: %s", remote, err.Error())
		sock.Close()
		metricsx.ObserveHandshake(metricsx.SideServer, t0, err)
		return nil, nil
	}
	p.logger.Debugf("tls_accept %s...", remote)
	err = cctx.Handshake(ctx)
	metricsx.ObserveHandshake(metricsx.SideServer, t0, err)
	if err != nil {
		p.logger.Errorf("tls_accept %s... %s in %s", remote, cctx.Error(), time.Since(t0))
		cctx.Close()
		cctx.Free()
		sock.Close()
		return nil, nil
	}
	p.logger.Debugf("tls_accept %s... ok in %s", remote, time.Since(t0))
	return tlsconn.New(p.logger, cctx, sock), nil
}

// Handler handles a connection produced by Serve and owns it.
type Handler func(conn *tlsconn.Connection)

// Serve runs the given number of accept loops until ctx is done or the
// provider is closed and dispatches each connection to handler in its own
// goroutine. Serve waits for all the handlers to return before returning.
// The return value is nil when ctx is done.
func (p *Provider) Serve(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var handlers sync.WaitGroup
	group, groupCtx := errgroup.WithContext(ctx)
	for idx := 0; idx < workers; idx++ {
		group.Go(func() error {
			for {
				conn, err := p.AcceptOnce(groupCtx)
				if err != nil {
					return err
				}
				if conn == nil {
					if err := p.listener.WaitAcceptable(groupCtx, async.DefaultPollSlice); err != nil {
						return err
					}
					continue
				}
				handlers.Add(1)
				go func() {
					defer handlers.Done()
					handler(conn)
				}()
			}
		})
	}
	err := group.Wait()
	handlers.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close implements model.ConnectionProvider. It closes and frees the server
// TLS context and then closes the listener. Calling Close more than once
// has no effect beyond the first call.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.serverCtx.Close()
		p.serverCtx.Free()
		p.closeErr = p.listener.Close()
	})
	return p.closeErr
}
