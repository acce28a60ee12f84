package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainrelay/chainrelay/cmd/chainrelay/commands"
	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/libs/cli"
	"github.com/chainrelay/chainrelay/libs/log"
)

func main() {
	ctx := context.Background()

	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf)
	rcmd.AddCommand(
		commands.MakeInitFilesCommand(conf, logger),
		commands.NewRunNodeCmd(conf),
		commands.VersionCmd,
	)

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.ExpandEnv("$HOME")
	}
	cmd := cli.PrepareBaseCmd(rcmd, "CR", filepath.Join(home, config.DefaultChainRelayDir))
	if err := cli.RunWithArgs(ctx, cmd, os.Args, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
