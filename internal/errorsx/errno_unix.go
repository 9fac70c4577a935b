//go:build unix

package errorsx

import (
	"errors"

	"golang.org/x/sys/unix"
)

// classifySyscallError converts a syscall error to the
// proper failure string, or returns the empty string.
func classifySyscallError(err error) string {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ""
	}
	switch errno {
	case unix.EADDRINUSE:
		return FailureAddressInUse
	case unix.EAFNOSUPPORT:
		return FailureAddressFamilyNotSupported
	case unix.ECONNABORTED:
		return FailureConnectionAborted
	case unix.ECONNREFUSED:
		return FailureConnectionRefused
	case unix.ECONNRESET, unix.EPIPE:
		return FailureConnectionReset
	case unix.EHOSTUNREACH:
		return FailureHostUnreachable
	case unix.EINTR:
		return FailureInterrupted
	case unix.EINVAL:
		return FailureInvalidArgument
	case unix.ENETUNREACH, unix.ENETDOWN:
		return FailureNetworkUnreachable
	case unix.ENOBUFS:
		return FailureNoBufferSpace
	case unix.EACCES, unix.EPERM:
		return FailurePermissionDenied
	case unix.EPROTONOSUPPORT:
		return FailureProtocolNotSupported
	case unix.ETIMEDOUT:
		return FailureTimedOut
	case unix.EMFILE, unix.ENFILE:
		return FailureTooManyOpenFiles
	}
	return ""
}
