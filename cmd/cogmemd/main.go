// Package main provides the entry point for the cogmemd CLI.
package main

import (
	"os"

	"github.com/cogmemd/cogmemd/cmd/cogmemd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
