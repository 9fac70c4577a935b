package cryptox

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// CipherSuites returns the cipher suites selected by the given string
// or an error wrapping ErrInvalidCiphers. A nil list with a nil error
// means using the crypto/tls defaults.
//
// Known selectors are "secure" and "default" (ECDHE key exchange
// with AEAD ciphers), "compat" and "legacy" (all the suites crypto/tls
// considers secure), and "insecure" and "all" (every suite crypto/tls
// implements). Otherwise, the string must be a list of IANA suite names
// separated by colons. TLSv1.3 suites are not configurable and are
// silently accepted.
func CipherSuites(selector string) ([]uint16, error) {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case "secure", "default":
		return secureSuites(), nil
	case "compat", "legacy":
		return suiteIDs(tls.CipherSuites()), nil
	case "insecure", "all":
		return append(suiteIDs(tls.CipherSuites()), suiteIDs(tls.InsecureCipherSuites())...), nil
	case "":
		return nil, fmt.Errorf("%w: empty selector", ErrInvalidCiphers)
	}
	return parseCipherList(selector)
}

func secureSuites() (out []uint16) {
	for _, suite := range tls.CipherSuites() {
		if !strings.HasPrefix(suite.Name, "TLS_ECDHE_") || !isAEAD(suite.Name) {
			continue
		}
		if !supportsVersion(suite, tls.VersionTLS12) {
			continue
		}
		out = append(out, suite.ID)
	}
	return
}

func isAEAD(name string) bool {
	return strings.Contains(name, "_GCM_") || strings.Contains(name, "_CHACHA20_POLY1305")
}

func supportsVersion(suite *tls.CipherSuite, version uint16) bool {
	for _, v := range suite.SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

func suiteIDs(suites []*tls.CipherSuite) (out []uint16) {
	for _, suite := range suites {
		if supportsVersion(suite, tls.VersionTLS13) {
			continue // not configurable
		}
		out = append(out, suite.ID)
	}
	return
}

func parseCipherList(s string) ([]uint16, error) {
	known := make(map[string]*tls.CipherSuite)
	for _, suite := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
		known[suite.Name] = suite
	}
	var out []uint16
	for _, name := range strings.Split(s, ":") {
		name = strings.TrimSpace(name)
		suite, found := known[name]
		if !found {
			return nil, fmt.Errorf("%w: unknown cipher suite %q", ErrInvalidCiphers, name)
		}
		if supportsVersion(suite, tls.VersionTLS13) {
			continue
		}
		out = append(out, suite.ID)
	}
	if len(out) <= 0 && !strings.Contains(s, "TLS_AES_") && !strings.Contains(s, "TLS_CHACHA20_") {
		return nil, fmt.Errorf("%w: no usable cipher suite", ErrInvalidCiphers)
	}
	return out, nil
}
