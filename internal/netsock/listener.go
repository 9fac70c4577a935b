//go:build unix

package netsock

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking listening stream socket bound to the
// wildcard address. It is safe to call Close while other goroutines
// are using Accept or WaitAcceptable.
type Listener struct {
	closeErr  error
	closeOnce sync.Once
	ipv6      bool
	port      uint16
	warnings  []error

	// mu protects fd, which is -1 once closed.
	mu sync.RWMutex
	fd int
}

// Listen6 creates a dual-stack listener bound to [::] and the given
// port, where zero means an ephemeral port. The backlog is capped to the
// system maximum. If the system does not support IPv6, Listen6 falls
// back to listening on 0.0.0.0; IPv6 tells whether that happened.
func Listen6(port uint16, backlog int) (*Listener, error) {
	listener, err := listenFamily(unix.AF_INET6, port, backlog)
	if errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EADDRNOTAVAIL) {
		listener, err = listenFamily(unix.AF_INET, port, backlog)
	}
	return listener, err
}

func listenFamily(family int, port uint16, backlog int) (*Listener, error) {
	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	listener := &Listener{fd: fd, ipv6: family == unix.AF_INET6}
	openSockets.Add(1)
	if err := listener.setup(port, backlog); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

func (l *Listener) setup(port uint16, backlog int) error {
	var sa unix.Sockaddr = &unix.SockaddrInet4{Port: int(port)}
	if l.ipv6 {
		sa = &unix.SockaddrInet6{Port: int(port)}
		if err := unix.SetsockoptInt(l.fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			l.warnings = append(l.warnings, os.NewSyscallError("setsockopt(IPV6_V6ONLY)", err))
		}
	}
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		l.warnings = append(l.warnings, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err))
	}
	if err := unix.Bind(l.fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if backlog <= 0 || backlog > unix.SOMAXCONN {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(l.fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	if err := unix.SetNonblock(l.fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	bound, err := unix.Getsockname(l.fd)
	if err != nil {
		return os.NewSyscallError("getsockname", err)
	}
	switch bound := bound.(type) {
	case *unix.SockaddrInet4:
		l.port = uint16(bound.Port)
	case *unix.SockaddrInet6:
		l.port = uint16(bound.Port)
	}
	return nil
}

// Accept accepts a pending connection without blocking. The returned
// socket is blocking. When there is no pending connection, the error
// is unix.EAGAIN (or unix.EWOULDBLOCK). After Close, the error is
// net.ErrClosed. Other errors are raw system errors.
func (l *Listener) Accept() (*Socket, error) {
	l.mu.RLock()
	if l.fd < 0 {
		l.mu.RUnlock()
		return nil, net.ErrClosed
	}
	syscall.ForkLock.RLock()
	fd, _, err := unix.Accept(l.fd)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	// Linux does not inherit O_NONBLOCK from the listener, BSD does
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return newSocketFromFd(fd), nil
}

// WaitAcceptable waits until there is a pending connection, polling in
// slices of the given duration, or until the context is done. After Close,
// it returns net.ErrClosed within at most one slice.
func (l *Listener) WaitAcceptable(ctx context.Context, slice time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.RLock()
		ready, err := pollOnce(l.fd, unix.POLLIN, slice)
		l.mu.RUnlock()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// Port returns the bound port.
func (l *Listener) Port() uint16 {
	return l.port
}

// IPv6 returns whether the listener is dual-stack.
func (l *Listener) IPv6() bool {
	return l.ipv6
}

// Warnings returns the non-fatal errors occurred while setting up the listener.
func (l *Listener) Warnings() []error {
	return l.warnings
}

// Close closes the listener. Calling Close more than once has no
// effect beyond the first call.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closeErr = os.NewSyscallError("close", unix.Close(l.fd))
		l.fd = -1
		l.mu.Unlock()
		openSockets.Add(-1)
	})
	return l.closeErr
}

// IsWouldBlock returns whether err means that the operation would block.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
