package model

//
// Byte streams and connection providers
//

import (
	"context"
	"errors"
	"net"
)

// ErrWaitRetry is the WAIT_RETRY signal. A [Stream] returns it when the
// operation cannot make progress right now and the caller should retry
// later with the same arguments. No progress is lost. This is NOT a
// failure and code handling streams MUST NOT treat it as such.
var ErrWaitRetry = errors.New("wait_retry")

// Stream is the byte stream consumed by the I/O framework.
//
// Read and Write return ErrWaitRetry on transient non-readiness and
// io.EOF when the peer closed the stream. A Stream is designed for a
// single reader and a single writer.
type Stream interface {
	// Read reads into the given buffer.
	Read(p []byte) (int, error)

	// Write writes the given buffer.
	Write(p []byte) (int, error)

	// Close closes the stream. Calling Close more than once has
	// no effect beyond the first call.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote address.
	RemoteAddr() net.Addr
}

// Well known connection provider properties.
const (
	// ProviderPropertyHost is the host the provider connects to or
	// accepts connections for.
	ProviderPropertyHost = "host"

	// ProviderPropertyPort is the port the provider connects to or
	// accepts connections on.
	ProviderPropertyPort = "port"
)

// ConnectionProvider produces streams.
type ConnectionProvider interface {
	// GetConnection returns a new stream. Server providers return
	// a nil stream and a nil error when there is no pending connection.
	GetConnection(ctx context.Context) (Stream, error)

	// Property returns the value of the given property or the
	// empty string when the property is not set.
	Property(name string) string

	// Close releases the resources used by the provider.
	Close() error
}
