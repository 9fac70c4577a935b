package testingx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ooni/tlsprovider/internal/runtimex"
)

// CertificateFiles contains a CA and a leaf certificate signed by such
// a CA, both written to PEM files inside a directory.
type CertificateFiles struct {
	// CAFile is the file containing the CA certificate.
	CAFile string

	// CertFile is the file containing the leaf certificate.
	CertFile string

	// KeyFile is the file containing the leaf private key.
	KeyFile string

	// CACert is the CA certificate.
	CACert *x509.Certificate

	// Leaf is the leaf certificate ready to use with crypto/tls.
	Leaf tls.Certificate
}

// MustNewCertificateFiles creates a new CA and a leaf certificate valid for
// the given hosts, which may be domain names or IP addresses, and writes
// them inside dir. This function panics on failure.
func MustNewCertificateFiles(dir string, hosts ...string) *CertificateFiles {
	caKey := runtimex.Try1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber: mustNewSerialNumber(),
		Subject: pkix.Name{
			CommonName:   "tlsprovider test CA",
			Organization: []string{"tlsprovider"},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER := runtimex.Try1(x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey))
	caCert := runtimex.Try1(x509.ParseCertificate(caDER))

	leafKey := runtimex.Try1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	leafTemplate := &x509.Certificate{
		SerialNumber: mustNewSerialNumber(),
		Subject: pkix.Name{
			CommonName:   "tlsprovider test server",
			Organization: []string{"tlsprovider"},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			leafTemplate.IPAddresses = append(leafTemplate.IPAddresses, ip)
			continue
		}
		leafTemplate.DNSNames = append(leafTemplate.DNSNames, host)
	}
	leafDER := runtimex.Try1(x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey))
	leafCert := runtimex.Try1(x509.ParseCertificate(leafDER))

	files := &CertificateFiles{
		CAFile:   filepath.Join(dir, "ca.pem"),
		CertFile: filepath.Join(dir, "cert.pem"),
		KeyFile:  filepath.Join(dir, "key.pem"),
		CACert:   caCert,
		Leaf: tls.Certificate{
			Certificate: [][]byte{leafDER},
			PrivateKey:  leafKey,
			Leaf:        leafCert,
		},
	}
	mustWritePEM(files.CAFile, "CERTIFICATE", caDER, 0644)
	mustWritePEM(files.CertFile, "CERTIFICATE", leafDER, 0644)
	mustWritePEM(files.KeyFile, "EC PRIVATE KEY", runtimex.Try1(x509.MarshalECPrivateKey(leafKey)), 0600)
	return files
}

// CertPool returns a cert pool containing the CA certificate.
func (cf *CertificateFiles) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(cf.CACert)
	return pool
}

// ServerTLSConfig returns a server TLS config using the leaf certificate.
func (cf *CertificateFiles) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cf.Leaf},
	}
}

// MustNewMismatchedKeyPair writes, inside dir, a certificate file and
// a key file that do not belong to each other. It returns the path of
// the key file and of the certificate file. This function panics on failure.
func MustNewMismatchedKeyPair(dir string, host string) (keyFile, certFile string) {
	first := MustNewCertificateFiles(filepath.Join(dir, "first"), host)
	second := MustNewCertificateFiles(filepath.Join(dir, "second"), host)
	return first.KeyFile, second.CertFile
}

func mustNewSerialNumber() *big.Int {
	return runtimex.Try1(rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128)))
}

func mustWritePEM(path, blockType string, der []byte, perm os.FileMode) {
	runtimex.Try0(os.MkdirAll(filepath.Dir(path), 0755))
	data := pem.EncodeToMemory(&pem.Block{
		Type:  blockType,
		Bytes: der,
	})
	runtimex.Try0(os.WriteFile(path, data, perm))
}
