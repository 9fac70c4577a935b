package cryptox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Socket is the socket a Context is bound to.
type Socket interface {
	// Conn returns the socket as a net.Conn. The Context never
	// closes the returned conn: the socket owner does that.
	Conn() (net.Conn, error)

	// Nonblocking returns whether the socket is non-blocking.
	Nonblocking() bool
}

// Context is a TLS context. A client context is bound to a socket by
// ConnectSocket. A server context produces, by means of AcceptSocket,
// per-connection contexts bound to accepted sockets.
//
// When the socket is non-blocking, ConnectSocket, Read and Write do not
// block. Instead, they start the operation in the background and return
// ErrWantPollIn or ErrWantPollOut until it completes. The caller should
// wait for the channel returned by Ready and then retry with the same
// arguments. An operation in progress is never restarted.
//
// You MUST call Close and Free when done with a Context.
type Context struct {
	server bool

	// fields set once by Configure and by binding
	config      *tls.Config
	sock        Socket
	raw         net.Conn
	conn        *tls.Conn
	nonblocking bool

	mu                sync.Mutex
	handshake         *operation
	handshakeFinished bool
	handshakeErr      error
	read              *operation
	readLeftover      []byte
	readErr           error
	write             *operation
	ready             chan struct{}
	closed            bool
	errmsg            string

	wg       sync.WaitGroup
	freeOnce sync.Once
}

// operation is an operation running in the background.
type operation struct {
	data []byte
	done bool
	n    int
	err  error
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewClient creates a new client context.
func NewClient() *Context {
	return newContext(false)
}

// NewServer creates a new server context.
func NewServer() *Context {
	return newContext(true)
}

func newContext(server bool) *Context {
	contextCreated()
	return &Context{
		server: server,
		ready:  make(chan struct{}),
	}
}

// Configure configures the context. Server contexts require a key and
// a certificate matching each other.
func (c *Context) Configure(config *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	tc, err := c.newTLSConfig(config)
	if err != nil {
		c.errmsg = err.Error()
		countError(ErrorClassConfigure)
		return err
	}
	c.config = tc
	return nil
}

func (c *Context) newTLSConfig(config *Config) (*tls.Config, error) {
	minVersion, maxVersion, err := versionRange(config.protocols)
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: config.ciphers,
	}
	if !c.server {
		tc.RootCAs = config.rootCAs
		tc.InsecureSkipVerify = config.insecureNoVerify
		tc.ClientSessionCache = clientSessions
		return tc, nil
	}
	if len(config.keyPEM) <= 0 || len(config.certPEM) <= 0 {
		return nil, ErrNoKeyPair
	}
	cert, err := tls.X509KeyPair(config.certPEM, config.keyPEM)
	if err != nil {
		if strings.Contains(err.Error(), "does not match") {
			return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, err.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrKeyUnreadable, err.Error())
	}
	tc.Certificates = []tls.Certificate{cert}
	return tc, nil
}

// ConnectSocket binds a client context to a connected socket and
// performs the handshake using serverName for SNI and for verifying
// the server certificate. With a non-blocking socket, this function
// returns ErrWantPollIn while the handshake is in progress; call it
// again with the same arguments once Ready is signalled.
func (c *Context) ConnectSocket(sock Socket, serverName string) error {
	return c.ConnectSocketContext(context.Background(), sock, serverName)
}

// ConnectSocketContext is like ConnectSocket but a blocking handshake
// is interrupted when ctx is done. The ctx is not used with a
// non-blocking socket, where the caller decides how long to wait.
func (c *Context) ConnectSocketContext(ctx context.Context, sock Socket, serverName string) error {
	c.mu.Lock()
	switch {
	case c.server:
		c.mu.Unlock()
		return ErrNotClient
	case c.config == nil:
		c.mu.Unlock()
		return ErrNotConfigured
	case c.closed:
		c.mu.Unlock()
		return ErrContextClosed
	case c.conn != nil && c.sock != sock:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.conn == nil:
		raw, err := sock.Conn()
		if err != nil {
			c.finishHandshakeLocked(err)
			c.mu.Unlock()
			return err
		}
		config := c.config.Clone()
		config.ServerName = serverName
		c.sock, c.raw, c.nonblocking = sock, raw, sock.Nonblocking()
		c.conn = tls.Client(raw, config)
	}
	if c.nonblocking {
		defer c.mu.Unlock()
		return c.handshakeStepLocked()
	}
	c.mu.Unlock()
	return c.Handshake(ctx)
}

// handshakeStepLocked starts or polls the background handshake.
func (c *Context) handshakeStepLocked() error {
	switch {
	case c.handshakeFinished:
		return c.handshakeErr
	case c.handshake == nil:
		op := &operation{}
		c.handshake = op
		c.startLocked(op, func() (int, error) {
			return 0, c.conn.HandshakeContext(context.Background())
		})
		return ErrWantPollIn
	case !c.handshake.done:
		return ErrWantPollIn
	default:
		c.finishHandshakeLocked(c.handshake.err)
		c.handshake = nil
		return c.handshakeErr
	}
}

func (c *Context) finishHandshakeLocked(err error) {
	c.handshakeFinished = true
	c.handshakeErr = err
	if err != nil {
		c.errmsg = err.Error()
		countError(ErrorClassHandshake)
	}
}

// AcceptSocket creates a new per-connection server context bound to
// the given accepted socket. Call Handshake on the returned context
// to perform the handshake. The returned context must be closed and
// freed independently of the server context.
func (c *Context) AcceptSocket(sock Socket) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.server {
		return nil, ErrNotServer
	}
	if c.config == nil {
		return nil, ErrNotConfigured
	}
	if c.closed {
		return nil, ErrContextClosed
	}
	raw, err := sock.Conn()
	if err != nil {
		c.errmsg = err.Error()
		return nil, err
	}
	cctx := newContext(true)
	cctx.config = c.config
	cctx.sock, cctx.raw, cctx.nonblocking = sock, raw, sock.Nonblocking()
	cctx.conn = tls.Server(raw, c.config)
	return cctx, nil
}

// Handshake performs the handshake synchronously, regardless of whether
// the socket is blocking. If a background handshake is in progress, this
// function waits for it. Calling Handshake after the handshake finished
// returns the handshake result.
func (c *Context) Handshake(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch {
		case c.conn == nil:
			c.mu.Unlock()
			return ErrNotConnected
		case c.handshakeFinished:
			err := c.handshakeErr
			c.mu.Unlock()
			return err
		case c.closed:
			c.mu.Unlock()
			return ErrContextClosed
		case c.handshake == nil:
			c.mu.Unlock()
			err := c.conn.HandshakeContext(ctx)
			c.mu.Lock()
			c.finishHandshakeLocked(err)
			c.mu.Unlock()
			return err
		case c.handshake.done:
			err := c.handshakeStepLocked()
			c.mu.Unlock()
			return err
		}
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Read reads application data. It returns io.EOF when the peer has
// closed the TLS session. With a non-blocking socket, it returns
// ErrWantPollIn while data is not yet available.
func (c *Context) Read(p []byte) (int, error) {
	if err := c.checkIO(ErrWantPollIn); err != nil {
		return 0, err
	}
	if len(p) <= 0 {
		return 0, nil
	}
	if !c.nonblocking {
		n, err := c.conn.Read(p)
		return n, c.ioError(ErrorClassRead, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrContextClosed
	}
	if len(c.readLeftover) > 0 {
		n := copy(p, c.readLeftover)
		c.readLeftover = c.readLeftover[n:]
		return n, nil
	}
	if err := c.readErr; err != nil {
		c.readErr = nil
		return 0, err
	}
	switch {
	case c.read == nil:
		op := &operation{data: make([]byte, len(p))}
		c.read = op
		c.startLocked(op, func() (int, error) {
			return c.conn.Read(op.data)
		})
		return 0, ErrWantPollIn
	case !c.read.done:
		return 0, ErrWantPollIn
	}
	op := c.read
	c.read = nil
	n := copy(p, op.data[:op.n])
	c.readLeftover = op.data[n:op.n]
	err := c.ioErrorLocked(ErrorClassRead, op.err)
	if n > 0 && err != nil {
		c.readErr, err = err, nil
	}
	return n, err
}

// Write writes application data. With a non-blocking socket, the first
// call copies p and starts writing it in the background, returning
// ErrWantPollOut. The caller MUST retry with the same p until Write
// returns a result different from ErrWantPollOut.
func (c *Context) Write(p []byte) (int, error) {
	if err := c.checkIO(ErrWantPollOut); err != nil {
		return 0, err
	}
	if !c.nonblocking {
		n, err := c.conn.Write(p)
		return n, c.ioError(ErrorClassWrite, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return 0, ErrContextClosed
	case c.write == nil:
		op := &operation{data: append([]byte(nil), p...)}
		c.write = op
		c.startLocked(op, func() (int, error) {
			return c.conn.Write(op.data)
		})
		return 0, ErrWantPollOut
	case !c.write.done:
		return 0, ErrWantPollOut
	}
	op := c.write
	c.write = nil
	return op.n, c.ioErrorLocked(ErrorClassWrite, op.err)
}

// checkIO returns an error if we cannot perform I/O yet.
func (c *Context) checkIO(want error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrContextClosed
	case c.conn == nil:
		return ErrNotConnected
	case c.handshake != nil:
		return want
	case !c.handshakeFinished:
		return ErrHandshakeIncomplete
	case c.handshakeErr != nil:
		return c.handshakeErr
	default:
		return nil
	}
}

func (c *Context) ioError(class ErrorClass, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ioErrorLocked(class, err)
}

func (c *Context) ioErrorLocked(class ErrorClass, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	c.errmsg = err.Error()
	countError(class)
	return err
}

// startLocked runs fn in the background and signals Ready when done.
func (c *Context) startLocked(op *operation, fn func() (int, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		n, err := fn()
		c.mu.Lock()
		op.n, op.err, op.done = n, err, true
		close(c.ready)
		c.ready = make(chan struct{})
		c.mu.Unlock()
	}()
}

// Ready returns a channel that is closed when retrying an operation that
// returned ErrWantPollIn or ErrWantPollOut may make progress. The returned
// channel is already closed if no background operation is in progress.
func (c *Context) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := false
	for _, op := range []*operation{c.handshake, c.read, c.write} {
		if op == nil {
			continue
		}
		if op.done {
			return closedChan
		}
		pending = true
	}
	if !pending {
		return closedChan
	}
	return c.ready
}

// closeNotifyTimeout bounds the time spent sending close_notify.
const closeNotifyTimeout = time.Second

// Close sends close_notify, if possible, and interrupts the operations
// running in the background. It does not close the socket. Calling
// Close more than once has no effect beyond the first call.
func (c *Context) Close() error {
	return c.shutdown(true)
}

func (c *Context) shutdown(notify bool) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	raw, conn := c.raw, c.conn
	busy := c.handshake != nil || c.write != nil
	established := c.handshakeFinished && c.handshakeErr == nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if notify && established && !busy {
		_ = raw.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))
		err = conn.CloseWrite()
	}
	// unblock whatever is still running in the background
	_ = raw.SetDeadline(time.Now())
	c.wg.Wait()
	return err
}

// Free releases the context. If the context was not closed, Free
// interrupts the background operations without sending close_notify.
// Calling Free more than once has no effect beyond the first call.
func (c *Context) Free() {
	c.freeOnce.Do(func() {
		_ = c.shutdown(false)
		contextFreed()
	})
}

// Error returns the text of the last error or the empty string.
func (c *Context) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errmsg
}

// IsServer returns whether this is a server context.
func (c *Context) IsServer() bool {
	return c.server
}

// Nonblocking returns whether the context is bound to a non-blocking socket.
func (c *Context) Nonblocking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonblocking
}

// ConnectionState returns the TLS connection state. The returned
// state is empty until the handshake has completed.
func (c *Context) ConnectionState() tls.ConnectionState {
	c.mu.Lock()
	established := c.handshakeFinished && c.handshakeErr == nil
	conn := c.conn
	c.mu.Unlock()
	if !established {
		return tls.ConnectionState{}
	}
	return conn.ConnectionState()
}
