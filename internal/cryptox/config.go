package cryptox

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// Config contains the configuration shared by several contexts. Once
// a Config has been used to configure a Context, it MUST NOT be modified.
type Config struct {
	protocols        uint32
	cipherSelector   string
	ciphers          []uint16
	keyPEM           []byte
	certPEM          []byte
	rootCAs          *x509.CertPool
	insecureNoVerify bool
}

// NewConfig creates a new Config using ProtocolsDefault and the
// "secure" cipher selector.
func NewConfig() *Config {
	return &Config{
		protocols:      ProtocolsDefault,
		cipherSelector: "secure",
		ciphers:        secureSuites(),
	}
}

// SetProtocols sets the enabled protocols.
func (c *Config) SetProtocols(protocols uint32) error {
	if protocols&ProtocolsAll == 0 || protocols&^ProtocolsAll != 0 {
		return fmt.Errorf("%w: 0x%x", ErrInvalidProtocols, protocols)
	}
	if _, _, err := versionRange(protocols); err != nil {
		return err
	}
	c.protocols = protocols
	return nil
}

// Protocols returns the enabled protocols.
func (c *Config) Protocols() uint32 {
	return c.protocols
}

// SetCiphers sets the cipher selector. See CipherSuites.
func (c *Config) SetCiphers(selector string) error {
	suites, err := CipherSuites(selector)
	if err != nil {
		return err
	}
	c.cipherSelector = selector
	c.ciphers = suites
	return nil
}

// Ciphers returns the cipher selector.
func (c *Config) Ciphers() string {
	return c.cipherSelector
}

// SetKeyFile loads the PEM encoded private key from the given file.
func (c *Config) SetKeyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrKeyUnreadable, err.Error())
	}
	if !containsPEMBlock(data, func(blockType string) bool {
		return strings.HasSuffix(blockType, "PRIVATE KEY")
	}) {
		return fmt.Errorf("%w: %s: no private key found", ErrKeyUnreadable, path)
	}
	c.keyPEM = data
	return nil
}

// SetCertFile loads the PEM encoded certificate chain from the given file.
func (c *Config) SetCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCertUnreadable, err.Error())
	}
	if !containsPEMBlock(data, func(blockType string) bool {
		return blockType == "CERTIFICATE"
	}) {
		return fmt.Errorf("%w: %s: no certificate found", ErrCertUnreadable, path)
	}
	c.certPEM = data
	return nil
}

// SetCAFile loads the PEM encoded root certificates used to verify
// the server certificate. Without a CA file we use the system roots.
func (c *Config) SetCAFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCAUnreadable, err.Error())
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%w: %s: no certificate found", ErrCAUnreadable, path)
	}
	c.rootCAs = pool
	return nil
}

// InsecureNoVerify disables verifying the server certificate chain
// and host name.
func (c *Config) InsecureNoVerify() {
	c.insecureNoVerify = true
}

// containsPEMBlock returns whether data contains a PEM block for
// which match returns true.
func containsPEMBlock(data []byte, match func(blockType string) bool) bool {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return false
		}
		if match(block.Type) {
			return true
		}
	}
}
