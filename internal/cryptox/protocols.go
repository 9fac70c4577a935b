package cryptox

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Protocol bits.
const (
	ProtocolTLSv10 = uint32(1 << 1)
	ProtocolTLSv11 = uint32(1 << 2)
	ProtocolTLSv12 = uint32(1 << 3)
	ProtocolTLSv13 = uint32(1 << 4)

	// ProtocolTLSv1 contains all the TLSv1.x protocols.
	ProtocolTLSv1 = ProtocolTLSv10 | ProtocolTLSv11 | ProtocolTLSv12 | ProtocolTLSv13

	// ProtocolsAll contains all the supported protocols.
	ProtocolsAll = ProtocolTLSv1

	// ProtocolsDefault contains the protocols enabled by default.
	ProtocolsDefault = ProtocolTLSv12 | ProtocolTLSv13
)

// ParseProtocols parses a protocols string. The string contains one
// or more protocol names separated by commas or colons. A name prefixed
// with "!" removes the protocol from the set. Known names are "all",
// "legacy", "default", "secure", "tlsv1", "tlsv1.0", "tlsv1.1", "tlsv1.2",
// and "tlsv1.3". The empty string means ProtocolsDefault.
func ParseProtocols(s string) (uint32, error) {
	if strings.TrimSpace(s) == "" {
		return ProtocolsDefault, nil
	}
	var protos uint32
	for _, token := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ':' }) {
		token = strings.TrimSpace(token)
		negate := strings.HasPrefix(token, "!")
		if negate {
			token = token[1:]
			if protos == 0 {
				protos = ProtocolsAll
			}
		}
		proto := protocolByName(strings.ToLower(token))
		if proto == 0 {
			return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidProtocols, token)
		}
		if negate {
			protos &^= proto
		} else {
			protos |= proto
		}
	}
	return protos, nil
}

func protocolByName(name string) uint32 {
	switch name {
	case "all", "legacy":
		return ProtocolsAll
	case "default", "secure":
		return ProtocolsDefault
	case "tlsv1":
		return ProtocolTLSv1
	case "tlsv1.0":
		return ProtocolTLSv10
	case "tlsv1.1":
		return ProtocolTLSv11
	case "tlsv1.2":
		return ProtocolTLSv12
	case "tlsv1.3":
		return ProtocolTLSv13
	default:
		return 0
	}
}

var protocolVersions = []struct {
	bit     uint32
	version uint16
}{
	{ProtocolTLSv10, tls.VersionTLS10},
	{ProtocolTLSv11, tls.VersionTLS11},
	{ProtocolTLSv12, tls.VersionTLS12},
	{ProtocolTLSv13, tls.VersionTLS13},
}

// versionRange maps protocols to the [min, max] range of versions
// understood by crypto/tls. A set with holes (e.g., "all,!tlsv1.1")
// cannot be expressed as a range and is rejected.
func versionRange(protocols uint32) (min, max uint16, err error) {
	var gap bool
	for _, entry := range protocolVersions {
		if protocols&entry.bit == 0 {
			gap = min != 0
			continue
		}
		if gap {
			return 0, 0, fmt.Errorf("%w: non-contiguous protocol set 0x%x", ErrInvalidProtocols, protocols)
		}
		if min == 0 {
			min = entry.version
		}
		max = entry.version
	}
	if min == 0 {
		return 0, 0, fmt.Errorf("%w: empty protocol set", ErrInvalidProtocols)
	}
	return min, max, nil
}
