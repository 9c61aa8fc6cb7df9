package main

import (
	"os"

	"github.com/taskdeck-dev/taskdeck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
