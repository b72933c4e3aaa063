// Package main is the redcapetl command.
package main

import (
	"os"

	"github.com/leapstack-labs/redcapetl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
