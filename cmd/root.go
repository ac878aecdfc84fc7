// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "audiobookctl",
	Short: "Organize scraped audiobook folders into a clean library layout",
	Long: `audiobookctl scrapes metadata for a folder of audiobook tracks, normalizes
its genres, and organizes the folder (and its sidecar metadata.opf, info.txt,
cover art and embedded ID3 tags) into a consistent library layout.

Work is tracked as a Job (one run over a set of folders) made up of Tasks
(one folder each). Jobs persist to an embedded queue store so an
interrupted run can be resumed exactly where it left off.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and executes it.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults to built-in defaults if unset)")

	rootCmd.AddCommand(jobCmd)
}

// exitWithError prints error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
