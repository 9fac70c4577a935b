package tlsclient

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/go-cmp/cmp"
	"github.com/ooni/tlsprovider/internal/async"
	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/errorsx"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/model/mocks"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/resolver"
	"github.com/ooni/tlsprovider/internal/testingx"
	"github.com/ooni/tlsprovider/internal/tlsconfig"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"github.com/ooni/tlsprovider/internal/tlslock"
)

const testHost = "tls.example.org"

func TestMain(m *testing.M) {
	tlslock.Install()
	os.Exit(m.Run())
}

// staticResolver returns a resolver mapping every domain to the given addresses.
func staticResolver(addrs ...string) model.Resolver {
	return &mocks.Resolver{
		MockLookupHost: func(ctx context.Context, domain string) ([]string, error) {
			return addrs, nil
		},
		MockNetwork: func() string {
			return "static"
		},
		MockAddress: func() string {
			return ""
		},
	}
}

// leakChecker checks that a test does not leak sockets or TLS contexts.
type leakChecker struct {
	sockets  int64
	contexts int64
}

func newLeakChecker() *leakChecker {
	return &leakChecker{
		sockets:  netsock.OpenSockets(),
		contexts: cryptox.LiveContexts(),
	}
}

func (lc *leakChecker) check(t *testing.T) {
	t.Helper()
	if delta := netsock.OpenSockets() - lc.sockets; delta != 0 {
		t.Fatal("leaked sockets", delta)
	}
	if delta := cryptox.LiveContexts() - lc.contexts; delta != 0 {
		t.Fatal("leaked TLS contexts", delta)
	}
}

type testEnv struct {
	certs *testingx.CertificateFiles
	srv   *testingx.TLSServer
}

func newTestEnv(t *testing.T, handler func(certs *testingx.CertificateFiles) testingx.TLSHandler) *testEnv {
	certs := testingx.MustNewCertificateFiles(t.TempDir(), testHost)
	srv := testingx.MustNewTLSServer(handler(certs))
	t.Cleanup(func() { srv.Close() })
	return &testEnv{certs: certs, srv: srv}
}

func (env *testEnv) newProvider(t *testing.T, options ...Option) *Provider {
	config, err := tlsconfig.NewDefaultClientConfig(tlsconfig.WithCAFile(env.certs.CAFile))
	if err != nil {
		t.Fatal(err)
	}
	options = append([]Option{
		WithLogger(log.Log),
		WithResolver(staticResolver("127.0.0.1")),
	}, options...)
	return mustNew(t, config, testHost, env.srv.Port(), options...)
}

func mustNew(t *testing.T, config *cryptox.Config, host string, port uint16, options ...Option) *Provider {
	t.Helper()
	p, err := New(config, host, port, options...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func echoHandler(certs *testingx.CertificateFiles) testingx.TLSHandler {
	return testingx.TLSHandlerEcho(certs)
}

func stallingHandler(*testingx.CertificateFiles) testingx.TLSHandler {
	return testingx.TLSHandlerTimeout()
}

// mustEcho writes a message and checks that it is echoed back.
func mustEcho(t *testing.T, conn *tlsconn.Connection) {
	message := []byte("hello, world\n")
	for written := 0; written < len(message); {
		n, err := conn.Write(message[written:])
		if errors.Is(err, model.ErrWaitRetry) {
			<-conn.Ready()
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		written += n
	}
	var received []byte
	buffer := make([]byte, 64)
	for len(received) < len(message) {
		n, err := conn.Read(buffer)
		if errors.Is(err, model.ErrWaitRetry) {
			<-conn.Ready()
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		received = append(received, buffer[:n]...)
	}
	if diff := cmp.Diff(message, received); diff != "" {
		t.Fatal(diff)
	}
}

func TestProviderProperties(t *testing.T) {
	config, err := tlsconfig.NewDefaultClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	p := mustNew(t, config, testHost, 443)
	if p.Property(model.ProviderPropertyHost) != testHost {
		t.Fatal("unexpected host")
	}
	if p.Property(model.ProviderPropertyPort) != "443" {
		t.Fatal("unexpected port")
	}
	if p.Property("nonexistent") != "" {
		t.Fatal("expected an empty string")
	}
	if p.String() != "tlsclient{tls.example.org:443}" {
		t.Fatal("unexpected string", p.String())
	}
	if p.resolver.Network() != "system" {
		t.Fatal("expected the system resolver by default")
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	config, err := tlsconfig.NewDefaultClientConfig()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("with an internationalized domain name", func(t *testing.T) {
		p := mustNew(t, config, "bücher.example", 443)
		if p.serverName != "xn--bcher-kva.example" {
			t.Fatal("unexpected server name", p.serverName)
		}
		if p.Property(model.ProviderPropertyHost) != "bücher.example" {
			t.Fatal("unexpected host property")
		}
	})

	t.Run("with IP addresses", func(t *testing.T) {
		for _, host := range []string{"127.0.0.1", "::1"} {
			p := mustNew(t, config, host, 443)
			if p.serverName != host {
				t.Fatal("unexpected server name", p.serverName)
			}
		}
	})

	t.Run("with invalid hosts", func(t *testing.T) {
		for _, host := range []string{"", "-antani.example.org", "exa mple.org"} {
			p, err := New(config, host, 443)
			if p != nil {
				t.Fatal("expected a nil provider")
			}
			if !errors.Is(err, ErrInvalidHost) {
				t.Fatal("unexpected error for", host, err)
			}
			expectFailure(t, err, errorsx.ErrConfiguration, errorsx.FailureInvalidHost)
		}
	})
}

func TestGetConnection(t *testing.T) {
	env := newTestEnv(t, echoHandler)
	lc := newLeakChecker()
	p := env.newProvider(t)
	stream, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	conn := stream.(*tlsconn.Connection)
	if conn.Nonblocking() {
		t.Fatal("expected a blocking connection")
	}
	state := conn.ConnectionState()
	if !state.HandshakeComplete || state.ServerName != testHost {
		t.Fatal("unexpected connection state", state)
	}
	mustEcho(t, conn)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	lc.check(t)
}

func TestGetConnectionWithUDPResolver(t *testing.T) {
	env := newTestEnv(t, echoHandler)
	rtx := &testingx.DNSRoundTripperStatic{
		Records: map[string][]string{
			testHost + ".": {"127.0.0.1"},
		},
	}
	dnsServer := testingx.MustNewDNSOverUDPListener(
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, &testingx.DNSOverUDPStdlibListener{}, rtx)
	defer dnsServer.Close()
	p := env.newProvider(t, WithResolver(resolver.NewUDPResolver(log.Log, dnsServer.LocalAddr().String())))
	conn, err := p.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mustEcho(t, conn)
	if rtx.Queries() != 1 {
		t.Fatal("expected exactly one query", rtx.Queries())
	}
}

func TestGetConnectionWithInternationalizedDomainName(t *testing.T) {
	const (
		host      = "bücher.example"
		asciiHost = "xn--bcher-kva.example"
	)
	certs := testingx.MustNewCertificateFiles(t.TempDir(), asciiHost)
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(certs))
	defer srv.Close()
	rtx := &testingx.DNSRoundTripperStatic{
		Records: map[string][]string{
			asciiHost + ".": {"127.0.0.1"},
		},
	}
	dnsServer := testingx.MustNewDNSOverUDPListener(
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, &testingx.DNSOverUDPStdlibListener{}, rtx)
	defer dnsServer.Close()
	config, err := tlsconfig.NewDefaultClientConfig(tlsconfig.WithCAFile(certs.CAFile))
	if err != nil {
		t.Fatal(err)
	}
	reso := resolver.NewUDPResolver(log.Log, dnsServer.LocalAddr().String())
	p := mustNew(t, config, host, srv.Port(), WithLogger(log.Log), WithResolver(reso))

	t.Run("blocking", func(t *testing.T) {
		conn, err := p.Connect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		if state := conn.ConnectionState(); state.ServerName != asciiHost {
			t.Fatal("unexpected server name", state.ServerName)
		}
		mustEcho(t, conn)
	})

	t.Run("suspendable", func(t *testing.T) {
		conn, err := p.GetConnectionAsync(context.Background(), nil).Await(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		if state := conn.ConnectionState(); state.ServerName != asciiHost {
			t.Fatal("unexpected server name", state.ServerName)
		}
		mustEcho(t, conn)
	})

	if rtx.Queries() != 2 {
		t.Fatal("expected exactly two queries", rtx.Queries())
	}
}

func TestGetConnectionSessionResumption(t *testing.T) {
	// connectTwice connects twice to the same server, exchanging data each time
	// such that the client receives the session ticket, and returns whether the
	// second connection resumed and the number of cache hits it caused.
	connectTwice := func(t *testing.T) (bool, int64) {
		env := newTestEnv(t, echoHandler)
		p := env.newProvider(t)
		first, err := p.Connect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		mustEcho(t, first)
		if first.ConnectionState().DidResume {
			t.Fatal("the first connection should not resume")
		}
		first.Close()
		hits := cryptox.SessionCacheHits()
		second, err := p.Connect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer second.Close()
		mustEcho(t, second)
		return second.ConnectionState().DidResume, cryptox.SessionCacheHits() - hits
	}

	t.Run("with the locking callback installed", func(t *testing.T) {
		resumed, hits := connectTwice(t)
		if !resumed {
			t.Fatal("expected the second connection to resume")
		}
		if hits <= 0 {
			t.Fatal("expected cache hits")
		}
	})

	t.Run("without the locking callback", func(t *testing.T) {
		saved := cryptox.LockingCallback()
		cryptox.SetLockingCallback(nil)
		defer cryptox.SetLockingCallback(saved)
		resumed, hits := connectTwice(t)
		if resumed {
			t.Fatal("expected the second connection not to resume")
		}
		if hits != 0 {
			t.Fatal("expected no cache hits", hits)
		}
	})
}

// expectFailure checks the error returned by a connect attempt.
func expectFailure(t *testing.T, err error, kind error, failure string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatal("unexpected error kind", err)
	}
	var ew *errorsx.ErrWrapper
	if !errors.As(err, &ew) {
		t.Fatal("expected an ErrWrapper", err)
	}
	if failure != "" && ew.Failure != failure {
		t.Fatal("unexpected failure", ew.Failure)
	}
}

func TestGetConnectionRefused(t *testing.T) {
	config, err := tlsconfig.NewDefaultClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	lc := newLeakChecker()
	p := mustNew(t, config, "127.0.0.1", testingx.MustUnusedPort(), WithLogger(log.Log))

	t.Run("blocking", func(t *testing.T) {
		stream, err := p.GetConnection(context.Background())
		if stream != nil {
			t.Fatal("expected a nil stream")
		}
		expectFailure(t, err, errorsx.ErrConnection, errorsx.FailureConnectionRefused)
		lc.check(t)
	})

	t.Run("suspendable", func(t *testing.T) {
		conn, err := p.GetConnectionAsync(context.Background(), nil).Await(context.Background())
		if conn != nil {
			t.Fatal("expected a nil connection")
		}
		expectFailure(t, err, errorsx.ErrConnection, errorsx.FailureConnectionRefused)
		lc.check(t)
	})
}

func TestGetConnectionNameResolutionFailure(t *testing.T) {
	config, err := tlsconfig.NewDefaultClientConfig()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("when the resolver fails", func(t *testing.T) {
		reso := &mocks.Resolver{
			MockLookupHost: func(ctx context.Context, domain string) ([]string, error) {
				return nil, errorsx.ErrDNSNoSuchHost
			},
		}
		lc := newLeakChecker()
		p := mustNew(t, config, testHost, 443, WithResolver(reso))
		_, err := p.Connect(context.Background())
		expectFailure(t, err, errorsx.ErrNameResolution, errorsx.FailureDNSNXDOMAINError)
		_, err = p.GetConnectionAsync(context.Background(), nil).Await(context.Background())
		expectFailure(t, err, errorsx.ErrNameResolution, errorsx.FailureDNSNXDOMAINError)
		lc.check(t)
	})

	t.Run("when there are no IPv4 addresses", func(t *testing.T) {
		p := mustNew(t, config, testHost, 443, WithResolver(staticResolver("::1")))
		_, err := p.Connect(context.Background())
		expectFailure(t, err, errorsx.ErrNameResolution, errorsx.FailureDNSNoAnswer)
	})

	t.Run("with the UDP resolver the error is wrapped once", func(t *testing.T) {
		rtx := &testingx.DNSRoundTripperStatic{Records: map[string][]string{}}
		dnsServer := testingx.MustNewDNSOverUDPListener(
			&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, &testingx.DNSOverUDPStdlibListener{}, rtx)
		defer dnsServer.Close()
		reso := resolver.NewUDPResolver(log.Log, dnsServer.LocalAddr().String())
		p := mustNew(t, config, testHost, 443, WithResolver(reso))
		for _, connect := range []func() error{
			func() error {
				_, err := p.Connect(context.Background())
				return err
			},
			func() error {
				_, err := p.GetConnectionAsync(context.Background(), nil).Await(context.Background())
				return err
			},
		} {
			err := connect()
			expectFailure(t, err, errorsx.ErrNameResolution, errorsx.FailureDNSNXDOMAINError)
			if diag := errorsx.Diagnostic(err); diag != errorsx.ErrDNSNoSuchHost.Error() {
				t.Fatal("unexpected diagnostic", diag)
			}
		}
	})
}

func TestGetConnectionHandshakeFailure(t *testing.T) {
	type testcase struct {
		// name is the name of the test case
		name string

		// newHandler creates the server handler
		newHandler func(certs *testingx.CertificateFiles) testingx.TLSHandler

		// otherCA causes the client to trust a CA different from the
		// one that signed the server certificate
		otherCA bool

		// expectFailure is the expected failure string
		expectFailure string
	}

	testcases := []testcase{{
		name:          "with a certificate signed by an unknown authority",
		newHandler:    echoHandler,
		otherCA:       true,
		expectFailure: errorsx.FailureSSLUnknownAuthority,
	}, {
		name: "when the server sends an alert",
		newHandler: func(*testingx.CertificateFiles) testingx.TLSHandler {
			return testingx.TLSHandlerSendAlert(testingx.TLSAlertUnrecognizedName)
		},
		expectFailure: errorsx.FailureSSLInvalidHostname,
	}, {
		name: "when the server closes the connection",
		newHandler: func(*testingx.CertificateFiles) testingx.TLSHandler {
			return testingx.TLSHandlerEOF()
		},
		expectFailure: errorsx.FailureEOFError,
	}, {
		name: "when the server resets the connection",
		newHandler: func(*testingx.CertificateFiles) testingx.TLSHandler {
			return testingx.TLSHandlerReset()
		},
		expectFailure: errorsx.FailureConnectionReset,
	}}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.newHandler)
			caFile := env.certs.CAFile
			if tc.otherCA {
				caFile = testingx.MustNewCertificateFiles(t.TempDir(), testHost).CAFile
			}
			config, err := tlsconfig.NewDefaultClientConfig(tlsconfig.WithCAFile(caFile))
			if err != nil {
				t.Fatal(err)
			}
			lc := newLeakChecker()
			p := mustNew(t, config, testHost, env.srv.Port(),
				WithLogger(log.Log), WithResolver(staticResolver("127.0.0.1")))

			t.Run("blocking", func(t *testing.T) {
				conn, err := p.Connect(context.Background())
				if conn != nil {
					t.Fatal("expected a nil connection")
				}
				expectFailure(t, err, errorsx.ErrTLSHandshake, tc.expectFailure)
				if errorsx.Diagnostic(err) == "" {
					t.Fatal("expected a diagnostic")
				}
				lc.check(t)
			})

			t.Run("suspendable", func(t *testing.T) {
				conn, err := p.GetConnectionAsync(context.Background(), nil).Await(context.Background())
				if conn != nil {
					t.Fatal("expected a nil connection")
				}
				expectFailure(t, err, errorsx.ErrTLSHandshake, tc.expectFailure)
				lc.check(t)
			})
		})
	}
}

func TestGetConnectionContextCanceled(t *testing.T) {
	env := newTestEnv(t, stallingHandler)
	lc := newLeakChecker()
	p := env.newProvider(t)

	t.Run("blocking", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := p.Connect(ctx)
		expectFailure(t, err, errorsx.ErrTLSHandshake, errorsx.FailureGenericTimeoutError)
		lc.check(t)
	})

	t.Run("suspendable", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		conn, err := p.GetConnectionAsync(ctx, nil).Await(context.Background())
		if conn != nil {
			t.Fatal("expected a nil connection")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("unexpected error", err)
		}
		lc.check(t)
	})
}

func TestGetConnectionAsync(t *testing.T) {
	env := newTestEnv(t, echoHandler)
	lc := newLeakChecker()
	p := env.newProvider(t)
	sched := &async.Scheduler{Logger: log.Log}
	conn, err := p.GetConnectionAsync(context.Background(), sched).Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !conn.Nonblocking() {
		t.Fatal("expected a non-blocking connection")
	}
	mustEcho(t, conn)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	lc.check(t)
}

// countingCoroutine counts the steps and suspensions of a coroutine.
type countingCoroutine struct {
	async.Coroutine[*tlsconn.Connection]
	steps       int
	suspensions int
}

func (cc *countingCoroutine) Act() async.Action {
	action := cc.Coroutine.Act()
	cc.steps++
	if action.IsWait() {
		cc.suspensions++
	}
	return action
}

func TestGetConnectionAsyncBoundedSuspensions(t *testing.T) {
	env := newTestEnv(t, echoHandler)
	p := env.newProvider(t)
	co, err := p.newConnectCoroutine(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cc := &countingCoroutine{Coroutine: co}
	conn, err := async.Run[*tlsconn.Connection](context.Background(), nil, cc)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// one suspension for the connect and a few for the handshake: a busy
	// spin would instead show up as a large number of steps
	if cc.suspensions > 8 || cc.steps > 16 {
		t.Fatal("too many steps", cc.steps, cc.suspensions)
	}
	if co.tlsctx != nil || co.sock != nil {
		t.Fatal("expected the coroutine to have moved its resources")
	}
	if co.state != stateDone {
		t.Fatal("unexpected state", co.state)
	}
}

func TestConnectCoroutineCloseBeforeHandshake(t *testing.T) {
	env := newTestEnv(t, stallingHandler)
	p := env.newProvider(t)

	// stepUntil runs the coroutine until it reaches the given state.
	stepUntil := func(t *testing.T, co *connectCoroutine, state connectState) async.Action {
		for idx := 0; idx < 100; idx++ {
			action := co.Act()
			if co.state == state {
				return action
			}
			if action.IsTerminal() {
				t.Fatal("unexpected terminal action", action)
			}
			if action.IsWait() {
				time.Sleep(10 * time.Millisecond)
			}
		}
		t.Fatal("state not reached", state)
		return async.Finish()
	}

	t.Run("while connecting", func(t *testing.T) {
		lc := newLeakChecker()
		co, err := p.newConnectCoroutine(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := co.Close(); err != nil {
			t.Fatal(err)
		}
		if err := co.Close(); err != nil {
			t.Fatal(err)
		}
		if co.state != stateFailed {
			t.Fatal("unexpected state", co.state)
		}
		lc.check(t)
	})

	t.Run("after connecting", func(t *testing.T) {
		lc := newLeakChecker()
		co, err := p.newConnectCoroutine(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		stepUntil(t, co, stateHandshaking)
		if co.tlsctx != nil {
			t.Fatal("the TLS context should be created lazily")
		}
		if err := co.Close(); err != nil {
			t.Fatal(err)
		}
		lc.check(t)
	})

	t.Run("while handshaking", func(t *testing.T) {
		lc := newLeakChecker()
		co, err := p.newConnectCoroutine(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		stepUntil(t, co, stateHandshaking)
		action := co.Act()
		if !action.IsWait() {
			t.Fatal("expected to wait for the handshake", action)
		}
		if co.tlsctx == nil {
			t.Fatal("expected a TLS context")
		}
		if err := co.Close(); err != nil {
			t.Fatal(err)
		}
		if !errors.Is(co.Act().Err(), context.Canceled) {
			t.Fatal("expected the coroutine to be failed")
		}
		lc.check(t)
	})
}
