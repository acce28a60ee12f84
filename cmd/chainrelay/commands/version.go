package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainrelay/version"
)

var verbose bool

// VersionCmd ...
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		if verbose {
			values, _ := json.MarshalIndent(struct {
				ChainRelay    string `json:"chainrelay"`
				SyncProtocol  uint64 `json:"sync_protocol"`
				EventProtocol uint64 `json:"event_protocol"`
			}{
				ChainRelay:    version.Version,
				SyncProtocol:  version.SyncProtocol.Uint64(),
				EventProtocol: version.EventProtocol.Uint64(),
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		}
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show protocol versions")
}
