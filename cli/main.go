package main

import (
	"os"

	"github.com/vertical-labs/firehose/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
