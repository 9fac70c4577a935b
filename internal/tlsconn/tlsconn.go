// Package tlsconn contains the TLS connection produced by the
// client and the server connection providers.
package tlsconn

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/metricsx"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/runtimex"
)

// Connection is a TLS byte stream. It owns exactly one TLS context and
// exactly one socket and releases both exactly once when closed.
//
// Read and Write return [model.ErrWaitRetry] when the socket is non-blocking
// and the operation cannot complete yet. In such a case, wait for the channel
// returned by Ready and then retry with the same buffer.
type Connection struct {
	closeErr  error
	closeOnce sync.Once
	id        string
	logger    model.Logger
	sock      *netsock.Socket
	tlsctx    *cryptox.Context
}

var _ model.Stream = &Connection{}

// New creates a Connection taking ownership of the given context and socket.
// The context MUST have completed the handshake over the given socket.
func New(logger model.Logger, tlsctx *cryptox.Context, sock *netsock.Socket) *Connection {
	runtimex.Assert(tlsctx != nil && sock != nil, "tlsconn: nil TLS context or socket")
	metricsx.ConnectionsInflight.Inc()
	return &Connection{
		id:     uuid.Must(uuid.NewRandom()).String(),
		logger: model.ValidLoggerOrDefault(logger),
		sock:   sock,
		tlsctx: tlsctx,
	}
}

// ID returns the unique identifier of this connection.
func (c *Connection) ID() string {
	return c.id
}

// Read implements model.Stream.
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.tlsctx.Read(p)
	return n, c.mapError(errorsx.ReadOperation, err)
}

// Write implements model.Stream.
func (c *Connection) Write(p []byte) (int, error) {
	n, err := c.tlsctx.Write(p)
	return n, c.mapError(errorsx.WriteOperation, err)
}

func (c *Connection) mapError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case cryptox.IsWant(err):
		return model.ErrWaitRetry
	case errors.Is(err, io.EOF):
		return io.EOF
	}
	ew := errorsx.NewErrWrapper(errorsx.ClassifyGenericError, operation, err)
	c.logger.Warnf("conn %s: %s: %s (%s)", c.id, operation, ew.Failure, ew.Diagnostic())
	return ew
}

// Ready returns a channel closed when retrying an operation that
// returned model.ErrWaitRetry may make progress.
func (c *Connection) Ready() <-chan struct{} {
	return c.tlsctx.Ready()
}

// Nonblocking returns whether the underlying socket is non-blocking.
func (c *Connection) Nonblocking() bool {
	return c.tlsctx.Nonblocking()
}

// ConnectionState returns the TLS connection state.
func (c *Connection) ConnectionState() tls.ConnectionState {
	return c.tlsctx.ConnectionState()
}

// LocalAddr implements model.Stream.
func (c *Connection) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// RemoteAddr implements model.Stream.
func (c *Connection) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// Close implements model.Stream. We first close the TLS context, which
// sends close_notify when possible, then we close the socket and finally
// we free the TLS context.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Debugf("conn %s: close...", c.id)
		errCtx := c.tlsctx.Close()
		errSock := c.sock.Close()
		c.tlsctx.Free()
		metricsx.ConnectionsInflight.Dec()
		// the close_notify failure is less interesting than the socket one
		if c.closeErr = errSock; c.closeErr == nil {
			c.closeErr = errCtx
		}
		c.logger.Debugf("conn %s: close... %s", c.id, model.ErrorToStringOrOK(c.closeErr))
	})
	return c.closeErr
}
