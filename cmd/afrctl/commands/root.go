// Package commands implements the afrctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "afrctl",
	Short:         "Administrative CLI for an AFR replica set",
	Long:          `afrctl inspects and repairs an AFR replica set's on-disk state: replica up/down status, split-brain resolution, and the lock-heal queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the replica set config file")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(splitBrainCmd)
	rootCmd.AddCommand(healCmd)
}
