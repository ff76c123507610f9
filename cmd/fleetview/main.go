package main

import (
	"os"

	"github.com/mkotake/fleetview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
