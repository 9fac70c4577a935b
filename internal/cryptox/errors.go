package cryptox

import "errors"

// ErrWantPollIn indicates that a non-blocking operation is in progress
// and the caller should retry after the context becomes ready.
var ErrWantPollIn = errors.New("cryptox: want pollin")

// ErrWantPollOut is like ErrWantPollIn but for operations that are
// waiting to write to the socket.
var ErrWantPollOut = errors.New("cryptox: want pollout")

// IsWant returns whether err is ErrWantPollIn or ErrWantPollOut.
func IsWant(err error) bool {
	return errors.Is(err, ErrWantPollIn) || errors.Is(err, ErrWantPollOut)
}

// These errors are returned when configuring a Config or a Context.
var (
	ErrInvalidProtocols = errors.New("cryptox: invalid protocols")
	ErrInvalidCiphers   = errors.New("cryptox: invalid ciphers")
	ErrKeyUnreadable    = errors.New("cryptox: cannot read private key")
	ErrCertUnreadable   = errors.New("cryptox: cannot read certificate")
	ErrCAUnreadable     = errors.New("cryptox: cannot read CA file")
	ErrKeyMismatch      = errors.New("cryptox: private key does not match certificate")
	ErrNoKeyPair        = errors.New("cryptox: server requires a key and a certificate")
)

// These errors are returned when a Context is misused.
var (
	ErrNotConfigured       = errors.New("cryptox: context not configured")
	ErrNotClient           = errors.New("cryptox: not a client context")
	ErrNotServer           = errors.New("cryptox: not a server context")
	ErrAlreadyConnected    = errors.New("cryptox: context already bound to a socket")
	ErrNotConnected        = errors.New("cryptox: context not bound to a socket")
	ErrHandshakeIncomplete = errors.New("cryptox: handshake not completed")
	ErrContextClosed       = errors.New("cryptox: context closed")
)
