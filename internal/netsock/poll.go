//go:build unix

package netsock

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Poll waits until fd is ready for the given events (e.g., unix.POLLOUT)
// polling in slices of the given duration so that it can honour the
// context. An error condition on fd counts as ready, such that the caller
// retries the operation and learns about the error.
func Poll(ctx context.Context, fd int, events int16, slice time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ready, err := pollOnce(fd, events, slice)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// pollOnce polls fd for at most one slice and returns whether fd is ready.
func pollOnce(fd int, events int16, slice time.Duration) (bool, error) {
	if fd < 0 {
		return false, net.ErrClosed
	}
	timeout := int(slice / time.Millisecond)
	if timeout <= 0 {
		timeout = 1
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	count, err := unix.Poll(fds, timeout)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, os.NewSyscallError("poll", err)
	}
	if count <= 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, net.ErrClosed
	}
	return true, nil
}
