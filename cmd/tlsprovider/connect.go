package main

//
// The connect subcommand
//

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/ooni/tlsprovider/internal/async"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/resolver"
	"github.com/ooni/tlsprovider/internal/tlsclient"
	"github.com/ooni/tlsprovider/internal/tlsconfig"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"github.com/spf13/cobra"
)

// connectConfig contains the connect subcommand settings.
type connectConfig struct {
	async     bool
	ca        string
	host      string
	insecure  bool
	logger    model.Logger
	message   string
	port      uint16
	protocols string
	resolver  string
}

// connectSubcommand returns the connect subcommand.
func connectSubcommand() *cobra.Command {
	cfg := &connectConfig{logger: log.Log}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connects to a TLS server, sends a message, and prints the reply",
		Run:   cfg.main,
		Args:  cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.host, "host", "localhost", "host to connect to")
	flags.Uint16Var(&cfg.port, "port", 4433, "port to connect to")
	flags.StringVar(&cfg.ca, "ca", "", "optional PEM file containing the CA certificates")
	flags.BoolVar(&cfg.insecure, "insecure", false, "do not verify the server certificate")
	flags.BoolVar(&cfg.async, "async", false, "connect using the suspendable state machine")
	flags.StringVar(&cfg.protocols, "protocols", "default", "TLS protocols to enable")
	flags.StringVar(&cfg.resolver, "resolver", "system:///", "resolver URL (e.g., udp://8.8.8.8:53)")
	flags.StringVar(&cfg.message, "message", "hello, world\n", "message to send")
	return cmd
}

// main is the main function of the connect subcommand.
func (c *connectConfig) main(*cobra.Command, []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := c.run(ctx, os.Stdout); err != nil {
		log.WithError(err).Fatal("connect failed")
	}
}

// run connects, sends the message, and writes the reply to w.
func (c *connectConfig) run(ctx context.Context, w io.Writer) error {
	options := []tlsconfig.Option{tlsconfig.WithProtocols(c.protocols)}
	if c.ca != "" {
		options = append(options, tlsconfig.WithCAFile(c.ca))
	}
	if c.insecure {
		options = append(options, tlsconfig.WithInsecureNoVerify())
	}
	config, err := tlsconfig.NewDefaultClientConfig(options...)
	if err != nil {
		return err
	}
	reso, err := resolver.NewFromURL(c.logger, c.resolver)
	if err != nil {
		return err
	}
	provider, err := tlsclient.New(config, c.host, c.port,
		tlsclient.WithLogger(c.logger), tlsclient.WithResolver(reso))
	if err != nil {
		return err
	}

	conn, err := c.connect(ctx, provider)
	if err != nil {
		return err
	}
	defer conn.Close()

	state := conn.ConnectionState()
	log.WithFields(log.Fields{
		"type":        "table",
		"id":          conn.ID(),
		"remote":      conn.RemoteAddr().String(),
		"server_name": state.ServerName,
		"version":     tls.VersionName(state.Version),
		"cipher":      tls.CipherSuiteName(state.CipherSuite),
		"resumed":     state.DidResume,
	}).Info("connected")

	if err := writeStream(ctx, conn, []byte(c.message)); err != nil {
		return err
	}
	reply := make([]byte, len(c.message))
	for offset := 0; offset < len(reply); {
		count, err := readStream(ctx, conn, reply[offset:])
		if err != nil {
			return err
		}
		offset += count
	}
	_, err = fmt.Fprint(w, string(reply))
	return err
}

func (c *connectConfig) connect(ctx context.Context, provider *tlsclient.Provider) (*tlsconn.Connection, error) {
	if c.async {
		sched := &async.Scheduler{Logger: c.logger}
		return provider.GetConnectionAsync(ctx, sched).Await(ctx)
	}
	return provider.Connect(ctx)
}
