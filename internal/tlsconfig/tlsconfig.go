// Package tlsconfig creates the configurations used by the TLS
// connection providers.
package tlsconfig

import (
	"errors"

	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
)

// NewDefaultServerConfig returns the configuration used by servers. It
// enables all protocols and the "secure" ciphers and loads the given
// private key and certificate. The returned error, if any, is an
// *errorsx.ErrWrapper of kind errorsx.ErrConfiguration.
func NewDefaultServerConfig(keyFile, certFile string) (*cryptox.Config, error) {
	config := cryptox.NewConfig()
	if err := config.SetProtocols(cryptox.ProtocolsAll); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := config.SetCiphers("secure"); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := config.SetKeyFile(keyFile); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := config.SetCertFile(certFile); err != nil {
		return nil, newConfigurationError(err)
	}
	return config, nil
}

// Option is an option for NewDefaultClientConfig.
type Option func(config *cryptox.Config) error

// WithCAFile verifies the server certificate using the
// certificates in the given PEM file.
func WithCAFile(path string) Option {
	return func(config *cryptox.Config) error {
		return config.SetCAFile(path)
	}
}

// WithInsecureNoVerify disables verifying the server certificate.
func WithInsecureNoVerify() Option {
	return func(config *cryptox.Config) error {
		config.InsecureNoVerify()
		return nil
	}
}

// WithProtocols sets the protocols using the syntax of
// cryptox.ParseProtocols (e.g., "tlsv1.2,tlsv1.3").
func WithProtocols(protocols string) Option {
	return func(config *cryptox.Config) error {
		protos, err := cryptox.ParseProtocols(protocols)
		if err != nil {
			return err
		}
		return config.SetProtocols(protos)
	}
}

// WithCiphers sets the cipher selector.
func WithCiphers(ciphers string) Option {
	return func(config *cryptox.Config) error {
		return config.SetCiphers(ciphers)
	}
}

// NewDefaultClientConfig returns the configuration used by clients,
// which enables TLSv1.2 and TLSv1.3 and the "secure" ciphers.
func NewDefaultClientConfig(options ...Option) (*cryptox.Config, error) {
	config := cryptox.NewConfig()
	if err := config.SetProtocols(cryptox.ProtocolsDefault); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := config.SetCiphers("secure"); err != nil {
		return nil, newConfigurationError(err)
	}
	for _, option := range options {
		if err := option(config); err != nil {
			return nil, newConfigurationError(err)
		}
	}
	return config, nil
}

func newConfigurationError(err error) error {
	return errorsx.NewErrWrapper(ClassifyConfigError, errorsx.ConfigureOperation, err)
}

// ClassifyConfigError maps crypto library configuration errors
// to failure strings.
//
// If this classifier fails, it calls errorsx.ClassifyGenericError
// and returns to the caller its return value.
func ClassifyConfigError(err error) string {
	switch {
	case errors.Is(err, cryptox.ErrKeyUnreadable):
		return errorsx.FailureSSLKeyUnreadable
	case errors.Is(err, cryptox.ErrCertUnreadable), errors.Is(err, cryptox.ErrCAUnreadable):
		return errorsx.FailureSSLCertificateUnreadable
	case errors.Is(err, cryptox.ErrKeyMismatch), errors.Is(err, cryptox.ErrNoKeyPair):
		return errorsx.FailureSSLKeyMismatch
	case errors.Is(err, cryptox.ErrInvalidCiphers):
		return errorsx.FailureSSLInvalidCiphers
	case errors.Is(err, cryptox.ErrInvalidProtocols):
		return errorsx.FailureSSLInvalidProtocols
	default:
		return errorsx.ClassifyGenericError(err)
	}
}
