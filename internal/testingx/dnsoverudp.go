package testingx

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/miekg/dns"
	"github.com/ooni/tlsprovider/internal/runtimex"
)

// DNSRoundTripper performs DNS round trips.
type DNSRoundTripper interface {
	RoundTrip(ctx context.Context, rawQuery []byte) (rawResponse []byte, err error)
}

// DNSRoundTripperStatic is a [DNSRoundTripper] answering A queries using
// a static table mapping domain names to IPv4 addresses. Unknown domains get
// NXDOMAIN. When Rcode is not zero, every query gets such an Rcode.
type DNSRoundTripperStatic struct {
	// Rcode is the optional rcode to use for every reply.
	Rcode int

	// Records maps domain names to IPv4 addresses.
	Records map[string][]string

	// mu protects queries.
	mu sync.Mutex

	// queries counts the queries we have received.
	queries int
}

var _ DNSRoundTripper = &DNSRoundTripperStatic{}

// RoundTrip implements DNSRoundTripper.
func (rtx *DNSRoundTripperStatic) RoundTrip(ctx context.Context, rawQuery []byte) ([]byte, error) {
	query := new(dns.Msg)
	if err := query.Unpack(rawQuery); err != nil {
		return nil, err
	}
	if len(query.Question) != 1 {
		return nil, errors.New("testingx: expected a single question")
	}
	rtx.mu.Lock()
	rtx.queries++
	rtx.mu.Unlock()
	resp := new(dns.Msg)
	resp.SetReply(query)
	question := query.Question[0]
	addrs, found := rtx.Records[dns.CanonicalName(question.Name)]
	switch {
	case rtx.Rcode != 0:
		resp.Rcode = rtx.Rcode
	case !found:
		resp.Rcode = dns.RcodeNameError
	case question.Qtype == dns.TypeA:
		for _, addr := range addrs {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name:   question.Name,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    3600,
				},
				A: net.ParseIP(addr).To4(),
			})
		}
	}
	return resp.Pack()
}

// Queries returns the number of queries received so far.
func (rtx *DNSRoundTripperStatic) Queries() int {
	rtx.mu.Lock()
	defer rtx.mu.Unlock()
	return rtx.queries
}

// DNSOverUDPUnderlyingListener is the underlying listener used by [DNSOverUDPListener].
type DNSOverUDPUnderlyingListener interface {
	ListenUDP(network string, addr *net.UDPAddr) (net.PacketConn, error)
}

// DNSOverUDPStdlibListener implements [DNSOverUDPUnderlyingListener] using the standard library.
type DNSOverUDPStdlibListener struct{}

var _ DNSOverUDPUnderlyingListener = &DNSOverUDPStdlibListener{}

// ListenUDP implements DNSOverUDPUnderlyingListener.
func (*DNSOverUDPStdlibListener) ListenUDP(network string, addr *net.UDPAddr) (net.PacketConn, error) {
	return net.ListenUDP(network, addr)
}

// DNSOverUDPListener is a DNS-over-UDP listener. The zero value of this
// struct is invalid, please use [MustNewDNSOverUDPListener].
type DNSOverUDPListener struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	pconn     net.PacketConn
	rtx       DNSRoundTripper
	wg        sync.WaitGroup
}

// MustNewDNSOverUDPListener creates a new [DNSOverUDPListener] using the given
// [DNSOverUDPUnderlyingListener], [DNSRoundTripper], and [*net.UDPAddr].
func MustNewDNSOverUDPListener(addr *net.UDPAddr, dul DNSOverUDPUnderlyingListener, rtx DNSRoundTripper) *DNSOverUDPListener {
	pconn := runtimex.Try1(dul.ListenUDP("udp", addr))
	ctx, cancel := context.WithCancel(context.Background())
	dl := &DNSOverUDPListener{
		cancel:    cancel,
		closeOnce: sync.Once{},
		pconn:     pconn,
		rtx:       rtx,
		wg:        sync.WaitGroup{},
	}
	dl.wg.Add(1)
	go dl.mainloop(ctx)
	return dl
}

// LocalAddr returns the connection address.
func (dl *DNSOverUDPListener) LocalAddr() net.Addr {
	return dl.pconn.LocalAddr()
}

// Close implements io.Closer.
func (dl *DNSOverUDPListener) Close() (err error) {
	dl.closeOnce.Do(func() {
		// close the connection to interrupt ReadFrom or WriteTo
		err = dl.pconn.Close()

		// cancel the context to interrupt the round tripper
		dl.cancel()

		// wait for the background goroutine to join
		dl.wg.Wait()
	})
	return err
}

func (dl *DNSOverUDPListener) mainloop(ctx context.Context) {
	// synchronize with Close
	defer dl.wg.Done()

	for {
		// read from the socket
		buffer := make([]byte, 1<<17)
		count, addr, err := dl.pconn.ReadFrom(buffer)

		// handle errors including the case in which we're closed
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			continue
		}

		// perform the round trip and ignore the message on error
		rawResp, err := dl.rtx.RoundTrip(ctx, buffer[:count])
		if err != nil {
			continue
		}

		// emit the message and ignore any error; we'll notice ErrClosed
		// in the next ReadFrom call and stop the loop
		_, _ = dl.pconn.WriteTo(rawResp, addr)
	}
}
