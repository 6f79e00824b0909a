package main

import (
	"fmt"
	"os"

	"github.com/mikey/mail-sentinel/internal/di"
	"github.com/spf13/cobra"
)

var flags = &di.CLIFlags{}

var rootCmd = &cobra.Command{
	Use:          "sentinel-check",
	Short:        "Mail Sentinel command line tool",
	Long:         "Runs the mail classification pipeline and manages per-user settings from the command line",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	rootCmd.AddCommand(fetchCmd(), inspectCmd(), resetChecksCmd(), trustedCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// invoke builds the CLI container and runs fn with its dependencies
func invoke(fn interface{}) error {
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return container.Invoke(fn)
}
