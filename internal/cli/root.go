// Package cli implements the conduit command line.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/MadnessEngineering/whispermind-conduit/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ___ ___  _ __   __| |_   _(_) |_\n" +
		"  / __/ _ \\| '_ \\ / _` | | | | | __|\n" +
		" | (_| (_) | | | | (_| | |_| | | |_\n" +
		"  \\___\\___/|_| |_|\\__,_|\\__,_|_|\\__|\n"
)

var rootCmd = &cobra.Command{
	Use:           "conduit",
	Short:         "conduit - message bus relay for language models",
	Long:          color.CyanString(logo) + "\nRelays requests from a message bus to a language model, with tools, sessions and history.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Version returns the build version.
func Version() string { return version }

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "conduit version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
