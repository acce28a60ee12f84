package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/libs/cli"
)

// ParseConfig retrieves the default environment configuration, sets up the
// chainrelay root and ensures that the root exists
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point for chainrelay.
// Subcommands read conf after the persistent flags, the environment and the
// config file have been applied to it.
func RootCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chainrelay",
		Short: "Block and state sync peer with an event distribution hub",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}
			if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			return nil
		},
	}
	cmd.PersistentFlags().String("log_level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log_format", conf.LogFormat, "log format: plain | json")
	return cmd
}
