package errorsx

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ClassifyGenericError maps an error occurred during an operation
// to a failure string. This specific classifier is the most
// generic one. You usually use it when mapping I/O errors. You should
// check whether there is a specific classifier for more specific
// operations (e.g., DNS resolution, TLS handshake).
//
// If the input error is an *ErrWrapper we don't perform
// the classification again and we return its Failure.
//
// If everything else fails, this classifier returns a string
// like "unknown_failure: XXX".
func ClassifyGenericError(err error) string {
	var errwrapper *ErrWrapper
	if errors.As(err, &errwrapper) {
		return errwrapper.Error() // we've already wrapped it
	}

	// Classify system errors first: errno values are more reliable
	// than matching on the error string.
	if failure := classifySyscallError(err); failure != "" {
		return failure
	}

	if errors.Is(err, context.Canceled) {
		return FailureInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureGenericTimeoutError
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return FailureEOFError
	}
	if errors.Is(err, net.ErrClosed) {
		return FailureConnectionAlreadyClosed
	}

	if failure := classifyWithStringSuffix(err); failure != "" {
		return failure
	}

	return fmt.Sprintf("unknown_failure: %s", err.Error())
}

// classifyWithStringSuffix is a subset of ClassifyGenericError that
// performs classification by looking at error suffixes. This function
// will return an empty string if it cannot classify the error.
func classifyWithStringSuffix(err error) string {
	s := err.Error()
	if strings.HasSuffix(s, "operation was canceled") {
		return FailureInterrupted
	}
	if strings.HasSuffix(s, "EOF") {
		return FailureEOFError
	}
	if strings.HasSuffix(s, "i/o timeout") {
		return FailureGenericTimeoutError
	}
	if strings.HasSuffix(s, DNSNoSuchHostSuffix) {
		return FailureDNSNXDOMAINError
	}
	if strings.HasSuffix(s, DNSServerMisbehavingSuffix) {
		return FailureDNSServerMisbehaving
	}
	if strings.HasSuffix(s, DNSNoAnswerSuffix) {
		return FailureDNSNoAnswer
	}
	if strings.HasSuffix(s, "use of closed network connection") {
		return FailureConnectionAlreadyClosed
	}
	return "" // not found
}

// We use these strings to string-match errors in the standard library
// and map such errors to failure strings.
const (
	DNSNoSuchHostSuffix        = "no such host"
	DNSServerMisbehavingSuffix = "server misbehaving"
	DNSNoAnswerSuffix          = "no answer from DNS server"
)

// These errors are returned by our own resolvers. Their suffix matches
// the equivalent unexported errors used by the Go standard library.
var (
	ErrDNSNoSuchHost  = fmt.Errorf("resolver: %s", DNSNoSuchHostSuffix)
	ErrDNSRefused     = errors.New("resolver: refused")
	ErrDNSMisbehaving = fmt.Errorf("resolver: %s", DNSServerMisbehavingSuffix)
	ErrDNSNoAnswer    = fmt.Errorf("resolver: %s", DNSNoAnswerSuffix)

	ErrDNSReplyWithWrongQueryID = errors.New("resolver: reply with wrong query ID")
)

// ClassifyResolverError maps DNS resolution errors to failure strings.
//
// If this classifier fails, it calls ClassifyGenericError and
// returns to the caller its return value.
func ClassifyResolverError(err error) string {
	var errwrapper *ErrWrapper
	if errors.As(err, &errwrapper) {
		return errwrapper.Error() // we've already wrapped it
	}
	if errors.Is(err, ErrDNSRefused) {
		return FailureDNSRefusedError
	}
	if errors.Is(err, ErrDNSReplyWithWrongQueryID) {
		return FailureDNSReplyWithWrongQueryID
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return FailureDNSNXDOMAINError
	}
	return ClassifyGenericError(err)
}

// ClassifyTLSHandshakeError maps an error occurred during the TLS
// handshake to a failure string.
//
// If this classifier fails, it calls ClassifyGenericError and
// returns to the caller its return value.
func ClassifyTLSHandshakeError(err error) string {
	var errwrapper *ErrWrapper
	if errors.As(err, &errwrapper) {
		return errwrapper.Error() // we've already wrapped it
	}

	var x509HostnameError x509.HostnameError
	if errors.As(err, &x509HostnameError) {
		return FailureSSLInvalidHostname
	}
	var x509UnknownAuthorityError x509.UnknownAuthorityError
	if errors.As(err, &x509UnknownAuthorityError) {
		return FailureSSLUnknownAuthority
	}
	var x509CertificateInvalidError x509.CertificateInvalidError
	if errors.As(err, &x509CertificateInvalidError) {
		return FailureSSLInvalidCertificate
	}

	// Alerts sent by the peer only surface as strings.
	if failure := classifyTLSAlert(err.Error()); failure != "" {
		return failure
	}
	return ClassifyGenericError(err)
}

// classifyTLSAlert maps the text of TLS alerts and of TLS protocol
// errors to failure strings. It returns the empty string on failure.
func classifyTLSAlert(s string) string {
	switch {
	case strings.HasSuffix(s, "tls: unknown certificate authority"):
		return FailureSSLUnknownAuthority
	case strings.HasSuffix(s, "tls: bad certificate"),
		strings.HasSuffix(s, "tls: unsupported certificate"),
		strings.HasSuffix(s, "tls: revoked certificate"),
		strings.HasSuffix(s, "tls: expired certificate"),
		strings.HasSuffix(s, "tls: unknown certificate"):
		return FailureSSLInvalidCertificate
	case strings.HasSuffix(s, "tls: unrecognized name"):
		return FailureSSLInvalidHostname
	case strings.HasSuffix(s, "tls: handshake failure"),
		strings.HasSuffix(s, "tls: protocol version not supported"),
		strings.HasSuffix(s, "tls: error decrypting message"),
		strings.Contains(s, "tls: first record does not look like a TLS handshake"),
		strings.Contains(s, "tls: no cipher suite supported by both client and server"),
		strings.Contains(s, "tls: client offered only unsupported versions"):
		return FailureSSLFailedHandshake
	default:
		return ""
	}
}
