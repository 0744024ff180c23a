package main

import (
	"os"

	"github.com/driftline-systems/driftline-stack/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
