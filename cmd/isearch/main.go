package main

import (
	"os"

	"github.com/isearch/isearch/cmd/isearch/commands"
	"github.com/isearch/isearch/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
