// p2pchat: CLI entry point.
//
// Text chat between two peers over a WebRTC DataChannel. A WebSocket relay is
// used only to find the peer and exchange session descriptions; once the
// channel opens, messages go peer to peer.
//
//	p2pchat            wait for someone to call (prints your name)
//	p2pchat <name>     call the peer with that relay name
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/p2pchat/internal/app"
	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/transport"
	"github.com/1ureka/p2pchat/internal/util"
)

var version = "dev"

var flags struct {
	configPath     string
	relay          string
	stun           []string
	turnUser       string
	turnCredential string
	protocol       string
	timeout        time.Duration
	debug          bool
	trace          bool
}

var rootCmd = &cobra.Command{
	Use:     "p2pchat [peer-name]",
	Short:   "Peer-to-peer chat over a WebRTC data channel",
	Long:    "p2pchat connects to a signaling relay, negotiates a WebRTC data channel with a peer,\nand turns stdin lines into chat messages. Without a peer name it waits to be called.",
	Version: version,
	Args:    cobra.MaximumNArgs(1),

	SilenceUsage:  true,
	SilenceErrors: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		if cfg.Debug {
			util.EnableDebug()
		}
		if flags.trace {
			util.EnableTrace()
		}

		// Root context, cancelled on Ctrl+C.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		pterm.Info.Println(fmt.Sprintf("p2pchat v%s", version))
		pterm.Println()

		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flags.configPath, "config", "", "YAML config file")
	rootCmd.Flags().StringVar(&flags.relay, "relay", config.DefaultRelayURL, "signaling relay URL")
	rootCmd.Flags().StringSliceVar(&flags.stun, "stun", nil, "ICE server URL, stun: or turn: (repeatable)")
	rootCmd.Flags().StringVar(&flags.turnUser, "turn-user", "", "username for the TURN servers")
	rootCmd.Flags().StringVar(&flags.turnCredential, "turn-credential", "", "credential for the TURN servers")
	rootCmd.Flags().StringVar(&flags.protocol, "protocol", string(config.ProtocolTrickle), "relay protocol: trickle or combined")
	rootCmd.Flags().DurationVar(&flags.timeout, "timeout", config.DefaultTimeout, "give up if no data channel opens in time (0 disables)")
	rootCmd.Flags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&flags.trace, "trace", false, "enable trace logging, including engine internals")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, then explicitly set flags, then the
// positional peer name.
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("relay") {
		cfg.RelayURL = flags.relay
	}
	if f.Changed("stun") {
		cfg.ICEServers = config.SplitICEURLs(flags.stun)
	}
	for i := range cfg.ICEServers {
		if !cfg.ICEServers[i].TURN() {
			continue
		}
		if f.Changed("turn-user") {
			cfg.ICEServers[i].Username = flags.turnUser
		}
		if f.Changed("turn-credential") {
			cfg.ICEServers[i].Credential = flags.turnCredential
		}
	}
	if f.Changed("protocol") {
		cfg.Protocol = config.Protocol(flags.protocol)
	}
	if f.Changed("timeout") {
		cfg.Timeout = flags.timeout
	}
	if f.Changed("debug") {
		cfg.Debug = flags.debug
	}

	var peer string
	if len(args) > 0 {
		peer = args[0]
	}
	cfg.SetPeer(peer)

	return cfg, cfg.Validate()
}

// ---------------------------------------------------------------------------
// Chat loop
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg config.Config) error {
	coord, err := app.Start(ctx, cfg, app.WithOutput(os.Stdout))
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer coord.Close()

	util.StartStatsReporter(ctx, time.Second)

	select {
	case <-coord.Ready():
	case <-coord.Done():
		return report(coord.Err())
	}

	s := coord.Session()
	util.LogSuccess("connected to %s, type a message and press Enter", s.PeerID)

	lines, readErr := readLines(ctx, os.Stdin)
	for {
		select {
		case msg := <-coord.Messages():
			fmt.Printf("> %s\n", msg)

		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				util.LogInfo("stdin closed, leaving chat")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := coord.Send(ctx, line); err != nil {
				if errors.Is(err, transport.ErrChannelClosed) {
					util.LogWarning("message not sent: %v", err)
					continue
				}
				util.LogError("send failed: %v", err)
			}

		case <-coord.Done():
			return report(coord.Err())
		}
	}
}

func report(err error) error {
	if err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	util.LogInfo("session closed")
	return nil
}

// maxLineSize bounds a single chat line read from stdin.
const maxLineSize = 1 << 20

// readLines forwards lines from r until EOF or ctx is done. Once lines is
// closed, the error channel yields why reading stopped: nil on EOF.
func readLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errc)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
