// p2pchat-relay is the rendezvous server p2pchat peers use to find each
// other. Every connection is given a random name; a frame addressed to a
// name is forwarded to that connection, stamped with the sender's name.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/1ureka/p2pchat/internal/relay"
	"github.com/1ureka/p2pchat/internal/util"
)

var (
	listen string
	debug  bool
)

var rootCmd = &cobra.Command{
	Use:   "p2pchat-relay",
	Short: "Signaling relay for p2pchat",
	Args:  cobra.NoArgs,

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			util.EnableTrace()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		srv := relay.NewServer()
		addr, err := srv.Start(listen)
		if err != nil {
			return err
		}
		util.LogSuccess("relay listening on %s", addr)

		<-ctx.Done()
		srv.Close()
		util.LogInfo("relay stopped")
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVar(&listen, "listen", ":9090", "address to listen on")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every forwarded frame")

	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
