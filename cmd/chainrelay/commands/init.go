package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/internal/ledger"
	"github.com/chainrelay/chainrelay/libs/log"
)

// MakeInitFilesCommand returns the command that creates the home directory,
// the config file and a ledger holding the genesis block.
func MakeInitFilesCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a chainrelay home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFiles(conf, logger)
		},
	}
	AddNodeFlags(cmd, conf)
	return cmd
}

func initFiles(conf *config.Config, logger log.Logger) error {
	if err := config.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	configFile := conf.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		logger.Info("found config file", "path", configFile)
	} else {
		if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
			return err
		}
		logger.Info("generated config file", "path", configFile)
	}

	db, err := config.DefaultDBProvider(&config.DBContext{ID: "ledger", Config: conf})
	if err != nil {
		return err
	}
	store, err := ledger.NewStore(db, nil)
	if err != nil {
		_ = db.Close()
		return err
	}
	info, err := store.GetBlockchainInfo()
	if err != nil {
		_ = store.Close()
		return err
	}
	logger.Info("ledger ready", "path", conf.DBDir(), "height", info.Height, "head", fmt.Sprintf("%X", info.CurrentBlockHash))
	return store.Close()
}
