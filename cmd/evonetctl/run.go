package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		store       storeFlags
		generations int
		population  int
		workers     int
		seed        int64
		scapeName   string
		mode        string
		ranks       int
		rank        int
		addr        string
		ckptPath    string
		ckptEvery   int
		metricsAddr string
		exchange    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population, resuming from the checkpoint when one exists",
		Long: `Runs the generational loop. In local mode every rank is a goroutine of
this process. In websocket mode start one process per rank with the same
--ranks and --addr; rank 0 listens and the others dial it.

Interrupting the run finishes the current generation and writes a final
checkpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			store.apply(cfg)
			f := cmd.Flags()
			if f.Changed("generations") {
				cfg.Run.Generations = generations
			}
			if f.Changed("population") {
				cfg.Run.PopulationSize = population
			}
			if f.Changed("workers") {
				cfg.Run.Workers = workers
			}
			if f.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if f.Changed("scape") {
				cfg.Scape.Name = scapeName
			}
			if f.Changed("mode") {
				cfg.Cluster.Mode = mode
			}
			if f.Changed("ranks") {
				cfg.Cluster.Ranks = ranks
			}
			if f.Changed("rank") {
				cfg.Cluster.Rank = rank
			}
			if f.Changed("addr") {
				cfg.Cluster.Addr = addr
			}
			if f.Changed("checkpoint") {
				cfg.Checkpoint.Path = ckptPath
			}
			if f.Changed("checkpoint-every") {
				cfg.Checkpoint.Every = ckptEvery
			}
			if f.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if f.Changed("exchange-fitness") {
				cfg.Run.ExchangeFitness = exchange
			}

			client, err := opts.client(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if summary.RunID == "" {
				fmt.Fprintf(out, "rank=%d finished generation=%d\n", cfg.Cluster.Rank, summary.FinalGeneration)
				return nil
			}
			fmt.Fprintf(out, "run_id=%s status=%s generations=%d..%d best=%.6f\n",
				summary.RunID, summary.Status, summary.StartGeneration, summary.FinalGeneration, summary.BestFitness)
			return nil
		},
	}

	f := cmd.Flags()
	store.register(cmd)
	f.IntVarP(&generations, "generations", "g", 0, "generations to run, 0 runs until interrupted")
	f.IntVarP(&population, "population", "p", 0, "population size")
	f.IntVar(&workers, "workers", 0, "concurrent evaluations per rank")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.StringVar(&scapeName, "scape", "", "simulation: xor|sine")
	f.StringVar(&mode, "mode", "", "process group: local|websocket")
	f.IntVarP(&ranks, "ranks", "n", 0, "number of ranks")
	f.IntVar(&rank, "rank", 0, "this process's rank in websocket mode")
	f.StringVar(&addr, "addr", "", "rank 0 address in websocket mode")
	f.StringVar(&ckptPath, "checkpoint", "", "checkpoint file")
	f.IntVar(&ckptEvery, "checkpoint-every", 0, "checkpoint interval in generations, 0 saves only on exit")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&exchange, "exchange-fitness", false, "broadcast shard fitness so rank 0 does not re-evaluate it")
	return cmd
}
