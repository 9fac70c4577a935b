package tlsclient

import (
	"context"
	"errors"
	"time"

	"github.com/ooni/tlsprovider/internal/async"
	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/metricsx"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"golang.org/x/sys/unix"
)

// connectState is the state of a connectCoroutine.
type connectState int

const (
	stateConnecting = connectState(iota)
	stateHandshaking
	stateDone
	stateFailed
)

// String implements fmt.Stringer.
func (s connectState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// connectCoroutine is an in-flight connection attempt. It owns the socket
// and, once created, the TLS context until it moves both into the
// Connection or releases them.
type connectCoroutine struct {
	addr   *unix.SockaddrInet4
	config *cryptox.Config
	conn   *tlsconn.Connection
	err    error
	host   string
	logger model.Logger
	sock   *netsock.Socket
	state  connectState
	t0     time.Time
	tlsctx *cryptox.Context
}

var _ async.Coroutine[*tlsconn.Connection] = &connectCoroutine{}

// Act implements async.Coroutine.
func (co *connectCoroutine) Act() async.Action {
	switch co.state {
	case stateConnecting:
		return co.connecting()
	case stateHandshaking:
		return co.handshaking()
	case stateDone:
		return co.done()
	default:
		return async.Fail(co.err)
	}
}

func (co *connectCoroutine) connecting() async.Action {
	err := co.sock.Connect(co.addr)
	switch {
	case err == nil || errors.Is(err, unix.EISCONN):
		co.logger.Debugf("dial %s/tcp... ok in %s", co.sock.RemoteAddr(), time.Since(co.t0))
		co.state = stateHandshaking
		return async.Yield()
	case errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EALREADY):
		return async.WaitWritable(co.sock.Fd())
	case errors.Is(err, unix.EINTR):
		return async.Repeat()
	default:
		co.logger.Debugf("dial tcp... %s in %s", err, time.Since(co.t0))
		return co.fail(errorsx.NewErrWrapper(errorsx.ClassifyGenericError, errorsx.ConnectOperation, err))
	}
}

func (co *connectCoroutine) handshaking() async.Action {
	if co.tlsctx == nil {
		tlsctx, err := newClientContext(co.config)
		if err != nil {
			return co.fail(err)
		}
		co.tlsctx = tlsctx
		co.logger.Debugf("tls {sni=%s}...", co.host)
	}
	err := co.tlsctx.ConnectSocket(co.sock, co.host)
	switch {
	case cryptox.IsWant(err):
		return async.WaitReady(co.tlsctx.Ready())
	case err != nil:
		co.logger.Errorf("tls {sni=%s}... %s in %s", co.host, co.tlsctx.Error(), time.Since(co.t0))
		return co.fail(errorsx.NewErrWrapper(
			errorsx.ClassifyTLSHandshakeError, errorsx.TLSHandshakeOperation, err))
	default:
		co.logger.Debugf("tls {sni=%s}... ok in %s", co.host, time.Since(co.t0))
		co.state = stateDone
		return async.Repeat()
	}
}

func (co *connectCoroutine) done() async.Action {
	if co.conn == nil {
		co.conn = tlsconn.New(co.logger, co.tlsctx, co.sock)
		co.tlsctx, co.sock = nil, nil
		metricsx.ObserveHandshake(metricsx.SideClient, co.t0, nil)
	}
	return async.Finish()
}

// fail releases the resources, records err, and moves to the failed state.
func (co *connectCoroutine) fail(err error) async.Action {
	co.release()
	co.err = err
	co.state = stateFailed
	metricsx.ObserveHandshake(metricsx.SideClient, co.t0, err)
	return async.Fail(err)
}

// release closes and frees whatever the coroutine still owns.
func (co *connectCoroutine) release() {
	if co.tlsctx != nil {
		co.tlsctx.Close()
		co.tlsctx.Free()
		co.tlsctx = nil
	}
	if co.sock != nil {
		co.sock.Close()
		co.sock = nil
	}
}

// Result implements async.Coroutine.
func (co *connectCoroutine) Result() *tlsconn.Connection {
	return co.conn
}

// Close implements async.Coroutine. It may be called in any state. It
// releases the resources of an interrupted attempt and does not touch
// a Connection already moved to the caller.
func (co *connectCoroutine) Close() error {
	if co.conn == nil && co.state != stateFailed {
		co.logger.Debugf("tlsclient: interrupted while %s", co.state)
		co.release()
		co.err = context.Canceled
		co.state = stateFailed
		metricsx.ObserveHandshake(metricsx.SideClient, co.t0, co.err)
	}
	return nil
}
