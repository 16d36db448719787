// Package main is the entry point for the novasearch daemon CLI.
package main

import (
	"fmt"
	"os"

	"github.com/novik133/novasearch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
