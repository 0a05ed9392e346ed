package main

import (
	"os"

	"github.com/dashgate-dev/dashgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
