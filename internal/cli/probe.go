package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"replaytrim/internal/logger"
	"replaytrim/internal/trim"
)

func newProbeCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the playable duration of a recording in seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewLogger(logLevel)
			engine := trim.New(log)
			duration, err := engine.ProbeDuration(args[0])
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			fmt.Printf("%.3f\n", duration)
			return nil
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log-level", "L", "error", "log level (error, warn, info, debug)")
	return cmd
}
