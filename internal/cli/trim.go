package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"replaytrim/internal/logger"
	"replaytrim/internal/replay"
	"replaytrim/internal/trim"
)

func newTrimCommand() *cobra.Command {
	var (
		input    string
		output   string
		duration int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Trim a recording to its last N seconds",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 {
				return fmt.Errorf("duration must be positive, got %d", duration)
			}
			if output == "" {
				output = replay.TrimmedOutputPath(input, "_trimmed")
			}

			log := logger.NewLogger(logLevel)
			engine := trim.New(log)
			if !engine.TrimToLastSeconds(input, output, duration) {
				return fmt.Errorf("trim of %s failed", input)
			}
			fmt.Println(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: input with _trimmed suffix)")
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "seconds to keep from the end")
	cmd.Flags().StringVarP(&logLevel, "log-level", "L", "info", "log level (error, warn, info, debug)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("duration")

	return cmd
}
