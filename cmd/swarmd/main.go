package main

import (
	"os"

	"github.com/subzero/swarm/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
