// Package main is the entry point for the audiobookctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/badabook/audiobookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
