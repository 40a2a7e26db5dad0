package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"evonet/pkg/evonet"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		store       storeFlags
		runID       string
		limit       int
		checkpoints bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the generations of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store.apply(opts.cfg)
			client, err := opts.client(opts.cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if runID == "" {
				runs, err := client.Runs(ctx, evonet.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RUN ID\tSTARTED\tSCAPE\tPOP\tRANKS\tGENERATIONS\tBEST\tSTATUS")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d..%d\t%.6f\t%s\n",
						r.ID, humanize.Time(r.StartedAt), r.Scape, r.PopulationSize, r.Ranks,
						r.StartGeneration, r.FinalGeneration, r.BestFitness, r.Status)
				}
				return nil
			}

			latest := runID == "latest"
			if latest {
				runID = ""
			}
			if checkpoints {
				events, err := client.Checkpoints(ctx, runID, latest)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "GENERATION\tSIZE\tSAVED\tPATH")
				for _, e := range events {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Generation, humanize.Bytes(uint64(e.Bytes)), e.SavedAt.Format(time.RFC3339), e.Path)
				}
				return nil
			}

			stats, err := client.Generations(ctx, evonet.GenerationsRequest{RunID: runID, Latest: latest, Limit: limit})
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "GENERATION\tBEST\tMEAN\tMIN\tELITE\tEVALS\tDURATION")
			for _, s := range stats {
				fmt.Fprintf(w, "%d\t%.6f\t%.6f\t%.6f\t%d\t%s\t%s\n",
					s.Generation, s.BestFitness, s.MeanFitness, s.MinFitness, s.EliteSize,
					humanize.Comma(int64(s.Evaluations)), s.Duration.Round(time.Microsecond))
			}
			return nil
		},
	}
	store.register(cmd)
	cmd.Flags().StringVar(&runID, "run-id", "", `run to show, or "latest"`)
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&checkpoints, "checkpoints", false, "show checkpoint events instead of generations")
	return cmd
}
