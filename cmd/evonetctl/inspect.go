package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"evonet/internal/checkpoint"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Print the header of a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := checkpoint.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:        %s\n", args[0])
			fmt.Fprintf(out, "size:        %s (%d bytes)\n", humanize.Bytes(uint64(summary.FileSize)), summary.FileSize)
			fmt.Fprintf(out, "generation:  %d\n", summary.Header.Generation)
			fmt.Fprintf(out, "population:  %d\n", summary.Header.PopulationSize)
			fmt.Fprintf(out, "weights:     %d\n", summary.NumWeights)
			return nil
		},
	}
}
