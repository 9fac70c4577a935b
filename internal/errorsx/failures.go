package errorsx

// Operations that can fail.
const (
	// ConfigureOperation is the operation where we configure a provider.
	ConfigureOperation = "configure"

	// ListenOperation is the operation where we create the listening socket.
	ListenOperation = "listen"

	// ResolveOperation is the operation where we resolve a domain name.
	ResolveOperation = "resolve"

	// SocketOperation is the operation where we create a socket.
	SocketOperation = "socket"

	// ConnectOperation is the operation where we do a TCP connect.
	ConnectOperation = "connect"

	// TLSHandshakeOperation is the TLS handshake.
	TLSHandshakeOperation = "tls_handshake"

	// AcceptOperation is the operation where we accept a connection.
	AcceptOperation = "accept"

	// ReadOperation is a read operation.
	ReadOperation = "read"

	// WriteOperation is a write operation.
	WriteOperation = "write"

	// CloseOperation is a close operation.
	CloseOperation = "close"
)

// These are the failure strings we use.
const (
	// FailureAddressInUse means EADDRINUSE.
	FailureAddressInUse = "address_in_use"

	// FailureAddressFamilyNotSupported means EAFNOSUPPORT.
	FailureAddressFamilyNotSupported = "address_family_not_supported"

	// FailureConnectionAborted means ECONNABORTED.
	FailureConnectionAborted = "connection_aborted"

	// FailureConnectionAlreadyClosed means we used a closed connection.
	FailureConnectionAlreadyClosed = "connection_already_closed"

	// FailureConnectionRefused means ECONNREFUSED.
	FailureConnectionRefused = "connection_refused"

	// FailureConnectionReset means ECONNRESET.
	FailureConnectionReset = "connection_reset"

	// FailureDNSNoAnswer means the DNS reply contained no IPv4 addresses.
	FailureDNSNoAnswer = "dns_no_answer"

	// FailureDNSNXDOMAINError means we got NXDOMAIN in the DNS reply.
	FailureDNSNXDOMAINError = "dns_nxdomain_error"

	// FailureDNSReplyWithWrongQueryID means the reply ID does not match the query ID.
	FailureDNSReplyWithWrongQueryID = "dns_reply_with_wrong_query_id"

	// FailureDNSRefusedError means the DNS server refused our query.
	FailureDNSRefusedError = "dns_refused_error"

	// FailureDNSServerMisbehaving means the DNS server replied with an error.
	FailureDNSServerMisbehaving = "dns_server_misbehaving"

	// FailureEOFError means we got unexpected EOF on connection.
	FailureEOFError = "eof_error"

	// FailureGenericTimeoutError means some timer has expired.
	FailureGenericTimeoutError = "generic_timeout_error"

	// FailureHostUnreachable means EHOSTUNREACH.
	FailureHostUnreachable = "host_unreachable"

	// FailureInvalidHost means the host is not a valid domain name.
	FailureInvalidHost = "invalid_host"

	// FailureInterrupted means that the user interrupted us.
	FailureInterrupted = "interrupted"

	// FailureInvalidArgument means EINVAL.
	FailureInvalidArgument = "invalid_argument"

	// FailureNetworkUnreachable means ENETUNREACH.
	FailureNetworkUnreachable = "network_unreachable"

	// FailureNoBufferSpace means ENOBUFS.
	FailureNoBufferSpace = "no_buffer_space"

	// FailurePermissionDenied means EACCES or EPERM.
	FailurePermissionDenied = "permission_denied"

	// FailureProtocolNotSupported means EPROTONOSUPPORT.
	FailureProtocolNotSupported = "protocol_not_supported"

	// FailureTimedOut means ETIMEDOUT.
	FailureTimedOut = "timed_out"

	// FailureTooManyOpenFiles means EMFILE or ENFILE.
	FailureTooManyOpenFiles = "too_many_open_files"

	// FailureSSLFailedHandshake means the TLS handshake failed for reasons other than the certificate.
	FailureSSLFailedHandshake = "ssl_failed_handshake"

	// FailureSSLInvalidCertificate means the certificate is expired or otherwise invalid.
	FailureSSLInvalidCertificate = "ssl_invalid_certificate"

	// FailureSSLInvalidHostname means the certificate is not valid for the SNI.
	FailureSSLInvalidHostname = "ssl_invalid_hostname"

	// FailureSSLUnknownAuthority means we cannot find a CA validating the certificate.
	FailureSSLUnknownAuthority = "ssl_unknown_authority"

	// FailureSSLCertificateUnreadable means we could not load the certificate file.
	FailureSSLCertificateUnreadable = "ssl_certificate_unreadable"

	// FailureSSLKeyUnreadable means we could not load the private key file.
	FailureSSLKeyUnreadable = "ssl_key_unreadable"

	// FailureSSLKeyMismatch means the private key does not match the certificate.
	FailureSSLKeyMismatch = "ssl_key_mismatch"

	// FailureSSLInvalidCiphers means the cipher selector is not valid.
	FailureSSLInvalidCiphers = "ssl_invalid_ciphers"

	// FailureSSLInvalidProtocols means the protocol selector is not valid.
	FailureSSLInvalidProtocols = "ssl_invalid_protocols"
)
