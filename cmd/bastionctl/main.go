package main

import (
	"errors"
	"os"

	"github.com/platinummonkey/bastion/pkg/cli"
)

func main() {
	logger := cli.NewLogger(os.Getenv("BASTION_LOG_LEVEL"))
	root := cli.NewRootCommand(&cli.Env{Out: os.Stdout, Logger: logger})

	if err := root.Execute(os.Args[1:]); err != nil {
		if !errors.Is(err, cli.ErrDenied) {
			logger.Error(err)
		}
		os.Exit(1)
	}
}
