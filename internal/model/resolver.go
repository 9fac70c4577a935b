package model

//
// Name resolution
//

import "context"

// Resolver performs domain name resolutions.
type Resolver interface {
	// LookupHost resolves the given domain to IPv4 addresses
	// using the textual representation of the addresses.
	LookupHost(ctx context.Context, domain string) ([]string, error)

	// Network returns the resolver type (e.g., "system", "udp").
	Network() string

	// Address returns the resolver address (e.g., "8.8.8.8:53").
	Address() string
}
