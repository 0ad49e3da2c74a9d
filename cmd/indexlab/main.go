// Package main provides the entry point for the indexlab CLI.
package main

import (
	"os"

	"indexlab/cmd/indexlab/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
