package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/internal/node"
	"github.com/chainrelay/chainrelay/libs/log"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a chainrelay node
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	// bind flags
	cmd.Flags().String("moniker", conf.Moniker, "node name presented to peers")
	cmd.Flags().String("peer_type", conf.PeerType, "peer type: validator | non_validator")

	// p2p flags
	cmd.Flags().String("p2p.laddr", conf.P2P.ListenAddress, "sync endpoint listen address")
	cmd.Flags().String("p2p.external_address", conf.P2P.ExternalAddress, "address advertised to peers")
	cmd.Flags().String("p2p.persistent_peers", conf.P2P.PersistentPeers, "comma-delimited host:port persistent peers")

	// sync flags
	cmd.Flags().Duration("sync.request_timeout", conf.Sync.RequestTimeout, "time to wait for a sync reply")
	cmd.Flags().Bool("sync.descending", conf.Sync.Descending, "request block ranges from high to low")

	// events flags
	cmd.Flags().String("events.laddr", conf.Events.ListenAddress, "event endpoint listen address (empty disables it)")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus, "serve prometheus metrics")

	// db flags
	cmd.Flags().String("db_backend", conf.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", conf.DBPath, "database directory")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
func NewRunNodeCmd(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the chainrelay node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
			if err != nil {
				return err
			}

			n, err := node.New(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			// Stop upon receiving SIGTERM or CTRL-C.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Info("started node", "peer", n.Self().String())

			// Run forever.
			n.Wait()
			return nil
		},
	}

	AddNodeFlags(cmd, conf)
	return cmd
}
