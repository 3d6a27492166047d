// Package main is the entry point for the flowmux application.
package main

import (
	"os"

	"github.com/jmylchreest/flowmux/cmd/flowmux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
