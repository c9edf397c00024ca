package main

import (
	"os"

	"github.com/benchsweep/benchsweep/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
