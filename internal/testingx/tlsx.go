package testingx

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ooni/tlsprovider/internal/runtimex"
)

// TLSHandler handles TLS connections. A handler should first handle the TLS handshake
// in the GetCertificate method. If GetCertificate did not return an error, and the
// handler implements [TLSConnHandler], its HandleTLSConn method will be called after
// the handshake to handle the lifecycle of the TLS conn itself.
type TLSHandler interface {
	// GetCertificate handles the TLS handshake.
	GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error)
}

// TLSConnHandler is the interface implemented by handlers that want to handle
// and manage the established TLS connection after the handshake.
type TLSConnHandler interface {
	HandleTLSConn(conn *tls.Conn)
}

// TLSServer is a TLS server useful to implement test servers.
type TLSServer struct {
	// cancel unblocks background goroutines blocked on the context contolling their lifecycle.
	cancel context.CancelFunc

	// closeOnce provides "once" semantics when closing.
	closeOnce sync.Once

	// endpoint is the endpoint where we're listening.
	endpoint string

	// handler contains the TLSHandler.
	handler TLSHandler

	// listener is the listening socket controller.
	listener net.Listener

	// ticketKey is the session ticket key shared by all the connections.
	ticketKey [32]byte

	// wg waits until the listening loop has finished running.
	wg sync.WaitGroup
}

// MustNewTLSServer creates and starts a new TLSServer listening on the IPv4
// loopback that executes the given handler during the TLS handshake.
func MustNewTLSServer(handler TLSHandler) *TLSServer {
	// create a listening socket
	listener := runtimex.Try1(net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))

	// create context for interrupting goroutines blocked in the background
	ctx, cancel := context.WithCancel(context.Background())

	// create the server
	srv := &TLSServer{
		cancel:    cancel,
		closeOnce: sync.Once{},
		endpoint:  listener.Addr().String(),
		handler:   handler,
		listener:  listener,
		ticketKey: [32]byte{},
		wg:        sync.WaitGroup{},
	}
	runtimex.Try1(rand.Read(srv.ticketKey[:]))

	// handle TCP connections
	srv.wg.Add(1)
	go srv.mainloop(ctx)

	return srv
}

// Endpoint returns the endpoint where the server is listening.
func (p *TLSServer) Endpoint() string {
	return p.endpoint
}

// Port returns the port where the server is listening.
func (p *TLSServer) Port() uint16 {
	_, sport, err := net.SplitHostPort(p.endpoint)
	runtimex.PanicOnError(err, "net.SplitHostPort")
	return uint16(runtimex.Try1(strconv.ParseUint(sport, 10, 16)))
}

// Close closes this server as soon as possible.
func (p *TLSServer) Close() (err error) {
	p.closeOnce.Do(func() {
		err = p.listener.Close()
		p.cancel()
		p.wg.Wait()
	})
	return
}

func (p *TLSServer) mainloop(ctx context.Context) {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return // most likely we have been closed
		}
		// create a goroutine for connection, which is overkill in general
		// but reasonable for a server designed for testing
		go p.handle(ctx, conn)
	}
}

func (p *TLSServer) handle(ctx context.Context, tcpConn net.Conn) {
	// eventually close the TCP connection
	defer tcpConn.Close()

	// make sure we unblock the handler when the server is closed
	stop := context.AfterFunc(ctx, func() {
		tcpConn.Close()
	})
	defer stop()

	// create TLS configuration where the handler is responsible for continuing the handshake
	tlsConfig := &tls.Config{
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return p.handler.GetCertificate(ctx, tcpConn, chi)
		},
	}
	tlsConfig.SetSessionTicketKeys([][32]byte{p.ticketKey})

	// create TLS connection
	tlsConn := tls.Server(tcpConn, tlsConfig)

	// perform the TLS handshake
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return
	}

	// eventually close the connection
	defer tlsConn.Close()

	// optionally let the handler handle the connection
	if h, good := p.handler.(TLSConnHandler); good {
		h.HandleTLSConn(tlsConn)
	}
}

// TLSHandlerTimeout returns a [TLSHandler] that reads the ClientHello and never
// replies, thus keeping the client handshake pending until the server is closed.
func TLSHandlerTimeout() TLSHandler {
	return &tlsHandlerTimeout{
		timeout: 300 * time.Second,
	}
}

type tlsHandlerTimeout struct {
	timeout time.Duration
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerTimeout) GetCertificate(
	ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	defer tcpConn.Close() // one way or another we want to close the TCP conn in the middle of the handshake
	select {
	case <-time.After(thx.timeout):
		return nil, errors.New("internal error")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const (
	// TLSAlertInternalError is the alter sent on internal errors
	TLSAlertInternalError = byte(80)

	// TLSAlertUnrecognizedName is the alert sent when the name is not recognized
	TLSAlertUnrecognizedName = byte(112)
)

// TLSHandlerSendAlert sends the alert given as argument to the client.
func TLSHandlerSendAlert(alert byte) TLSHandler {
	return &tlsHandlerSendAlert{alert}
}

type tlsHandlerSendAlert struct {
	alert byte
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerSendAlert) GetCertificate(
	ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	alertdata := []byte{
		21, // alert
		3,  // version[0]
		3,  // version[1]
		0,  // length[0]
		2,  // length[1]
		2,  // fatal
		thx.alert,
	}
	_, _ = tcpConn.Write(alertdata)
	_ = tcpConn.Close() // close connection to avoid the caller trying to send another alert
	return nil, errors.New("internal error")
}

// TLSHandlerEOF closes the connection during the handshake.
func TLSHandlerEOF() TLSHandler {
	return &tlsHandlerEOF{}
}

type tlsHandlerEOF struct{}

// GetCertificate implements TLSHandler.
func (*tlsHandlerEOF) GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	tcpConn.Close() // close the TCP connection to force EOF during the handshake
	return nil, errors.New("internal error")
}

// TLSHandlerReset resets the connection during the handshake.
func TLSHandlerReset() TLSHandler {
	return &tlsHandlerReset{}
}

type tlsHandlerReset struct{}

// GetCertificate implements TLSHandler.
func (*tlsHandlerReset) GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	tcpMaybeResetNetConn(tcpConn)
	tcpConn.Close() // just in case to avoid the error returned here to be sent remotely as an alert
	return nil, errors.New("internal error")
}

// TLSHandlerEcho returns a [TLSHandler] that completes the handshake using
// the given certificates and then echoes back whatever it reads.
func TLSHandlerEcho(certs *CertificateFiles) TLSHandler {
	return &tlsHandlerEcho{certs}
}

var _ TLSConnHandler = &tlsHandlerEcho{}

type tlsHandlerEcho struct {
	certs *CertificateFiles
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerEcho) GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return &thx.certs.Leaf, nil
}

// HandleTLSConn implements TLSConnHandler.
func (thx *tlsHandlerEcho) HandleTLSConn(conn *tls.Conn) {
	_, _ = io.Copy(conn, conn)
	// Note that the caller closes the connection for us, which sends
	// close_notify once the client has stopped writing
}
