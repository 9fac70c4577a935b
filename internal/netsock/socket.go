//go:build unix

// Package netsock contains raw stream sockets. A Socket starts its life
// as a file descriptor, which allows to connect it in non-blocking mode,
// and may then be adopted into a net.Conn to perform I/O.
package netsock

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// openSockets counts the sockets and listeners that are still open.
var openSockets atomic.Int64

// OpenSockets returns the number of sockets and listeners created by
// this package that have not been closed yet. Use it to check for leaks.
func OpenSockets() int64 {
	return openSockets.Load()
}

// Socket is a stream socket.
type Socket struct {
	closeOnce   sync.Once
	closeErr    error
	conn        net.Conn
	fd          int
	mu          sync.Mutex
	nonblocking bool
}

// NewStream4 creates a new blocking IPv4 stream socket.
func NewStream4() (*Socket, error) {
	fd, err := newSocket(unix.AF_INET)
	if err != nil {
		return nil, err
	}
	return newSocketFromFd(fd), nil
}

func newSocketFromFd(fd int) *Socket {
	openSockets.Add(1)
	return &Socket{fd: fd}
}

// newSocket creates a close-on-exec stream socket.
func newSocket(family int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// Fd returns the socket file descriptor. After the socket has been
// adopted by Conn or closed, this function returns -1.
func (s *Socket) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return -1
	}
	return s.fd
}

// SetNonblock sets the socket non-blocking mode. Once the socket has been
// adopted by Conn, the runtime handles the descriptor mode and this
// function only records whether the owner wants non-blocking semantics.
func (s *Socket) SetNonblock(nonblocking bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if s.fd < 0 {
			return net.ErrClosed
		}
		if err := unix.SetNonblock(s.fd, nonblocking); err != nil {
			return os.NewSyscallError("setnonblock", err)
		}
	}
	s.nonblocking = nonblocking
	return nil
}

// Nonblocking returns whether the socket is in non-blocking mode.
func (s *Socket) Nonblocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonblocking
}

// SetNoSigpipe prevents writes to a closed socket from raising SIGPIPE
// on systems supporting SO_NOSIGPIPE and is a no-op elsewhere.
func (s *Socket) SetNoSigpipe() error {
	return s.control(setNoSigpipe)
}

// control runs fn with the socket file descriptor.
func (s *Socket) control(fn func(fd int) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if s.fd < 0 {
			return net.ErrClosed
		}
		return fn(s.fd)
	}
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return errors.ErrUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) {
		ferr = fn(int(fd))
	}); err != nil {
		return err
	}
	return ferr
}

// Connect starts connecting the socket. The return value is the raw
// error returned by the system (e.g., unix.EINPROGRESS for non-blocking
// sockets), which the caller uses to drive the connection.
func (s *Socket) Connect(sa unix.Sockaddr) error {
	fd := s.Fd()
	if fd < 0 {
		return net.ErrClosed
	}
	return unix.Connect(fd, sa)
}

// ConnectBlocking connects a blocking socket. When a signal interrupts
// the connect, we wait for the connection to complete and then read the
// outcome using SO_ERROR.
func (s *Socket) ConnectBlocking(sa unix.Sockaddr) error {
	err := s.Connect(sa)
	if !errors.Is(err, unix.EINTR) {
		return err
	}
	fd := s.Fd()
	if err := Poll(context.Background(), fd, unix.POLLOUT, time.Second); err != nil {
		return err
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// Conn adopts the socket into a net.Conn. The returned conn is owned by
// the Socket and is closed by Close. Calling Conn again returns the
// same conn.
func (s *Socket) Conn() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	if s.fd < 0 {
		return nil, net.ErrClosed
	}
	file := os.NewFile(uintptr(s.fd), "netsock")
	conn, err := net.FileConn(file) // dups the file descriptor
	file.Close()
	s.fd = -1
	if err != nil {
		// the original descriptor is gone and Close has nothing left to close
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// LocalAddr returns the local address or nil.
func (s *Socket) LocalAddr() net.Addr {
	if conn := s.adopted(); conn != nil {
		return conn.LocalAddr()
	}
	var addr net.Addr
	_ = s.control(func(fd int) error {
		sa, err := unix.Getsockname(fd)
		addr = sockaddrToTCPAddr(sa, err)
		return nil
	})
	return addr
}

// RemoteAddr returns the remote address or nil.
func (s *Socket) RemoteAddr() net.Addr {
	if conn := s.adopted(); conn != nil {
		return conn.RemoteAddr()
	}
	var addr net.Addr
	_ = s.control(func(fd int) error {
		sa, err := unix.Getpeername(fd)
		addr = sockaddrToTCPAddr(sa, err)
		return nil
	})
	return addr
}

func (s *Socket) adopted() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Close closes the socket. Calling Close more than once has no effect
// beyond the first call, whose return value is returned again.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case s.conn != nil:
			// the crypto library may have already closed the conn when a
			// handshake was interrupted by its context
			if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.closeErr = err
			}
		case s.fd >= 0:
			s.closeErr = os.NewSyscallError("close", unix.Close(s.fd))
			s.fd = -1
		}
		openSockets.Add(-1)
	})
	return s.closeErr
}

func sockaddrToTCPAddr(sa unix.Sockaddr, err error) net.Addr {
	if err != nil {
		return nil
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}
