package main

//
// The serve subcommand
//

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/tlsconfig"
	"github.com/ooni/tlsprovider/internal/tlsconn"
	"github.com/ooni/tlsprovider/internal/tlsserver"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// serveConfig contains the serve subcommand settings.
type serveConfig struct {
	cert        string
	key         string
	logger      model.Logger
	nonblocking bool
	onListening func(port uint16)
	port        uint16
	prometheus  string
	workers     int
}

// serveSubcommand returns the serve subcommand.
func serveSubcommand() *cobra.Command {
	cfg := &serveConfig{logger: log.Log}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs a TLS echo server",
		Run:   cfg.main,
		Args:  cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.Uint16Var(&cfg.port, "port", 4433, "port where to listen")
	flags.StringVar(&cfg.key, "key", "key.pem", "PEM file containing the private key")
	flags.StringVar(&cfg.cert, "cert", "cert.pem", "PEM file containing the certificate")
	flags.BoolVar(&cfg.nonblocking, "nonblocking", false, "use non-blocking sockets for connections")
	flags.IntVar(&cfg.workers, "workers", 4, "number of accept loops")
	flags.StringVar(&cfg.prometheus, "prometheus", "", "optional endpoint where to serve prometheus metrics")
	return cmd
}

// main is the main function of the serve subcommand.
func (c *serveConfig) main(*cobra.Command, []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := c.run(ctx); err != nil {
		log.WithError(err).Fatal("serve failed")
	}
}

// run runs the echo server until ctx is done.
func (c *serveConfig) run(ctx context.Context) error {
	config, err := tlsconfig.NewDefaultServerConfig(c.key, c.cert)
	if err != nil {
		return err
	}
	provider, err := tlsserver.New(config, c.port, c.nonblocking, tlsserver.WithLogger(c.logger))
	if err != nil {
		return err
	}
	defer provider.Close()

	if c.prometheus != "" {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.Handler())
		promSrv := &http.Server{Addr: c.prometheus, Handler: promMux}
		go promSrv.ListenAndServe()
		defer promSrv.Close()
		c.logger.Infof("serving prometheus metrics at http://%s/metrics", c.prometheus)
	}

	c.logger.Infof("serving on port %d with %d workers", provider.Port(), c.workers)
	if c.onListening != nil {
		c.onListening(provider.Port())
	}
	return provider.Serve(ctx, c.workers, func(conn *tlsconn.Connection) {
		c.echo(ctx, conn)
	})
}

// echo echoes back what it reads until the client closes the connection.
func (c *serveConfig) echo(ctx context.Context, conn *tlsconn.Connection) {
	defer conn.Close()
	// interrupt blocking reads when we're shutting down
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	c.logger.Infof("conn %s: accepted from %s", conn.ID(), conn.RemoteAddr())
	t0 := time.Now()
	var total int64
	buffer := make([]byte, 1<<14)
	for {
		count, err := readStream(ctx, conn, buffer)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Warnf("conn %s: %s", conn.ID(), err.Error())
			return
		}
		if err := writeStream(ctx, conn, buffer[:count]); err != nil {
			c.logger.Warnf("conn %s: %s", conn.ID(), err.Error())
			return
		}
		total += int64(count)
	}
	c.logger.Infof("conn %s: echoed %d bytes in %s", conn.ID(), total, time.Since(t0))
}
