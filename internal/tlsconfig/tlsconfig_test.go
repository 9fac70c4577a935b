package tlsconfig

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/testingx"
)

func TestNewDefaultServerConfig(t *testing.T) {
	certs := testingx.MustNewCertificateFiles(t.TempDir(), "localhost")

	t.Run("on success", func(t *testing.T) {
		config, err := NewDefaultServerConfig(certs.KeyFile, certs.CertFile)
		if err != nil {
			t.Fatal(err)
		}
		if config.Protocols() != cryptox.ProtocolsAll {
			t.Fatal("unexpected protocols")
		}
		if config.Ciphers() != "secure" {
			t.Fatal("unexpected ciphers")
		}
	})

	var failures = []struct {
		name     string
		keyFile  string
		certFile string
		failure  string
	}{{
		name:     "with missing key file",
		keyFile:  filepath.Join(t.TempDir(), "nonexistent"),
		certFile: certs.CertFile,
		failure:  errorsx.FailureSSLKeyUnreadable,
	}, {
		name:     "with missing cert file",
		keyFile:  certs.KeyFile,
		certFile: filepath.Join(t.TempDir(), "nonexistent"),
		failure:  errorsx.FailureSSLCertificateUnreadable,
	}, {
		name:     "with swapped files",
		keyFile:  certs.CertFile,
		certFile: certs.KeyFile,
		failure:  errorsx.FailureSSLKeyUnreadable,
	}}
	for _, input := range failures {
		t.Run(input.name, func(t *testing.T) {
			config, err := NewDefaultServerConfig(input.keyFile, input.certFile)
			if config != nil {
				t.Fatal("expected nil config")
			}
			if !errors.Is(err, errorsx.ErrConfiguration) {
				t.Fatal("unexpected error", err)
			}
			var ew *errorsx.ErrWrapper
			if !errors.As(err, &ew) {
				t.Fatal("expected an *ErrWrapper")
			}
			if ew.Failure != input.failure {
				t.Fatal("unexpected failure", ew.Failure)
			}
			if ew.Operation != errorsx.ConfigureOperation {
				t.Fatal("unexpected operation", ew.Operation)
			}
		})
	}
}

func TestNewDefaultClientConfig(t *testing.T) {
	certs := testingx.MustNewCertificateFiles(t.TempDir(), "localhost")

	t.Run("defaults", func(t *testing.T) {
		config, err := NewDefaultClientConfig()
		if err != nil {
			t.Fatal(err)
		}
		if config.Protocols() != cryptox.ProtocolsDefault {
			t.Fatal("unexpected protocols")
		}
	})

	t.Run("with options", func(t *testing.T) {
		config, err := NewDefaultClientConfig(
			WithCAFile(certs.CAFile),
			WithProtocols("tlsv1.3"),
			WithCiphers("compat"),
			WithInsecureNoVerify(),
		)
		if err != nil {
			t.Fatal(err)
		}
		if config.Protocols() != cryptox.ProtocolTLSv13 {
			t.Fatal("unexpected protocols")
		}
		if config.Ciphers() != "compat" {
			t.Fatal("unexpected ciphers")
		}
	})

	var failures = []struct {
		name    string
		option  Option
		failure string
	}{{
		name:    "with invalid protocols",
		option:  WithProtocols("sslv3"),
		failure: errorsx.FailureSSLInvalidProtocols,
	}, {
		name:    "with protocols excluding a middle version",
		option:  WithProtocols("all,!tlsv1.1"),
		failure: errorsx.FailureSSLInvalidProtocols,
	}, {
		name:    "with invalid ciphers",
		option:  WithCiphers("antani"),
		failure: errorsx.FailureSSLInvalidCiphers,
	}, {
		name:    "with missing CA file",
		option:  WithCAFile(filepath.Join(t.TempDir(), "nonexistent")),
		failure: errorsx.FailureSSLCertificateUnreadable,
	}}
	for _, input := range failures {
		t.Run(input.name, func(t *testing.T) {
			config, err := NewDefaultClientConfig(input.option)
			if config != nil {
				t.Fatal("expected nil config")
			}
			if !errors.Is(err, errorsx.ErrConfiguration) {
				t.Fatal("unexpected error", err)
			}
			if err.Error() != input.failure {
				t.Fatal("unexpected failure", err.Error())
			}
		})
	}
}

func TestClassifyConfigError(t *testing.T) {
	if ClassifyConfigError(cryptox.ErrKeyMismatch) != errorsx.FailureSSLKeyMismatch {
		t.Fatal("unexpected failure")
	}
	if ClassifyConfigError(cryptox.ErrNoKeyPair) != errorsx.FailureSSLKeyMismatch {
		t.Fatal("unexpected failure")
	}
	if ClassifyConfigError(errors.New("antani")) != "unknown_failure: antani" {
		t.Fatal("unexpected failure")
	}
}
