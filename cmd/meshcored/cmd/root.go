// Package cmd implements the meshcored CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd is the base command when meshcored is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:     "meshcored",
	Short:   "BLE mesh protocol engine daemon",
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"path to a YAML config file (defaults are used if omitted)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd)
}
