// Command tlsprovider runs a TLS echo server or connects to a TLS
// server using the TLS connection providers.
package main

import (
	"github.com/apex/log"
	"github.com/ooni/tlsprovider/internal/log/handlers/cli"
	"github.com/ooni/tlsprovider/internal/runtimex"
	"github.com/ooni/tlsprovider/internal/tlslock"
	"github.com/spf13/cobra"
)

func main() {
	var verbose bool
	root := &cobra.Command{
		Use:   "tlsprovider",
		Short: "TLS connection providers over raw stream sockets",
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "emit debug messages")
	root.AddCommand(serveSubcommand())
	root.AddCommand(connectSubcommand())

	log.Log = &log.Logger{Level: log.InfoLevel, Handler: cli.Default}
	tlslock.Install()

	err := root.Execute()
	runtimex.PanicOnError(err, "root.Execute")
}
