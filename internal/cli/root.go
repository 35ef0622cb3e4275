// Package cli wires the command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "replaytrim",
	Short:         "Trim replay buffer recordings to their last N seconds",
	Long:          "replaytrim keeps the tail of a recorded replay buffer: it copies the last N seconds of a container file into a new file without re-encoding, cutting at a keyframe so the result plays from the first frame.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the config file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTrimCommand())
	rootCmd.AddCommand(newProbeCommand())
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
