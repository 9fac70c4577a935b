// Package errorsx contains the error taxonomy of the TLS connection
// providers. Every failure is an *ErrWrapper carrying a failure string,
// the operation that failed, and the underlying error.
package errorsx

import (
	"encoding/json"
	"errors"
)

// These errors identify the kind of failure. Use errors.Is to check
// whether an *ErrWrapper belongs to a given kind.
var (
	// ErrConfiguration indicates a fatal construction-time failure (e.g.,
	// bad certificate, key, or ciphers, or failing to bind or listen).
	ErrConfiguration = errors.New("configuration error")

	// ErrNameResolution indicates that we could not resolve the host.
	ErrNameResolution = errors.New("name resolution error")

	// ErrSocketCreation indicates that we could not create a socket.
	ErrSocketCreation = errors.New("socket creation error")

	// ErrConnection indicates that connecting to the peer failed.
	ErrConnection = errors.New("connection error")

	// ErrTLSHandshake indicates that the TLS handshake failed.
	ErrTLSHandshake = errors.New("tls handshake error")

	// ErrIO indicates that reading from or writing to a connection failed.
	ErrIO = errors.New("io error")
)

// operationKinds maps each operation to its kind.
var operationKinds = map[string]error{
	ConfigureOperation:    ErrConfiguration,
	ListenOperation:       ErrConfiguration,
	ResolveOperation:      ErrNameResolution,
	SocketOperation:       ErrSocketCreation,
	ConnectOperation:      ErrConnection,
	TLSHandshakeOperation: ErrTLSHandshake,
	ReadOperation:         ErrIO,
	WriteOperation:        ErrIO,
}

// ErrWrapper is our error wrapper for Go errors. The key objective of
// this structure is to properly set Failure, which is also returned by
// the Error() method, to be one of the FailureXXX strings.
type ErrWrapper struct {
	// Failure is the failure string.
	//
	// This is either one of the FailureXXX strings or any other
	// string like `unknown_failure: ...`. The latter represents an
	// error that we have not yet mapped to a failure.
	Failure string

	// Operation is the operation that failed.
	//
	// If possible, the Operation string SHOULD be a _major_
	// operation. Major operations are:
	//
	// - ConfigureOperation: configuring a provider failed
	// - ResolveOperation: resolving a domain name failed
	// - SocketOperation: creating a socket failed
	// - ConnectOperation: connecting to an IP failed
	// - TLSHandshakeOperation: TLS handshaking failed
	//
	// Because a connection doesn't necessarily know what is
	// the current major operation we also have the following
	// _minor_ operations:
	//
	// - ReadOperation: READ failed
	// - WriteOperation: WRITE failed
	//
	// If an ErrWrapper referring to a major operation is wrapping
	// another ErrWrapper and such ErrWrapper already refers to
	// a major operation, then the new ErrWrapper uses the child
	// ErrWrapper major operation.
	Operation string

	// WrappedErr is the error that we're wrapping.
	WrappedErr error
}

// Error returns the failure string for this error.
func (e *ErrWrapper) Error() string {
	return e.Failure
}

// Unwrap allows to access the underlying error.
func (e *ErrWrapper) Unwrap() error {
	return e.WrappedErr
}

// Is returns whether target is the kind of this error.
func (e *ErrWrapper) Is(target error) bool {
	kind, found := operationKinds[e.Operation]
	return found && kind == target
}

// Diagnostic returns the text of the underlying error, which is
// usually more informative than the failure string.
func (e *ErrWrapper) Diagnostic() string {
	if e.WrappedErr == nil {
		return ""
	}
	return e.WrappedErr.Error()
}

// MarshalJSON converts an ErrWrapper to a JSON value.
func (e *ErrWrapper) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Failure)
}

// Classifier is the type of the function that maps a Go error
// to a failure string.
type Classifier func(err error) string

// NewErrWrapper creates a new ErrWrapper using the given
// classifier, operation name, and underlying error.
//
// This function panics if classifier is nil, or operation
// is the empty string or error is nil.
//
// If the err argument has already been classified, the returned
// error wrapper will use the same classification string and
// will determine whether to keep the major operation as documented
// in the ErrWrapper.Operation documentation.
func NewErrWrapper(c Classifier, op string, err error) *ErrWrapper {
	var wrapper *ErrWrapper
	if errors.As(err, &wrapper) {
		return &ErrWrapper{
			Failure:    wrapper.Failure,
			Operation:  classifyOperation(wrapper, op),
			WrappedErr: err,
		}
	}
	if c == nil {
		panic("nil classifier")
	}
	if op == "" {
		panic("empty op")
	}
	if err == nil {
		panic("nil err")
	}
	return &ErrWrapper{
		Failure:    c(err),
		Operation:  op,
		WrappedErr: err,
	}
}

// MaybeNewErrWrapper is like NewErrWrapper except that this
// function won't panic if passed a nil error.
func MaybeNewErrWrapper(c Classifier, op string, err error) error {
	if err != nil {
		return NewErrWrapper(c, op, err)
	}
	return nil
}

// Diagnostic returns the diagnostic text of err if it's an
// *ErrWrapper and err.Error() otherwise. It returns the empty
// string when err is nil.
func Diagnostic(err error) string {
	var wrapper *ErrWrapper
	if errors.As(err, &wrapper) {
		return wrapper.Diagnostic()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func classifyOperation(ew *ErrWrapper, operation string) string {
	// Basically, as explained in ErrWrapper docs, let's
	// keep the child major operation, if any.
	switch ew.Operation {
	case ConfigureOperation, ResolveOperation, SocketOperation,
		ConnectOperation, TLSHandshakeOperation:
		return ew.Operation
	default:
		return operation
	}
}
