// Package main is the entry point for nexusctl.
package main

import (
	"fmt"
	"os"

	"github.com/pysugar/nexusctl/internal/cli"
)

func main() {
	cli.Init()

	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
