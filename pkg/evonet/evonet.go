// Package evonet is the programmatic entry point: it wires configuration,
// process groups, engines, checkpoints, the run ledger and metrics.
package evonet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evonet/internal/checkpoint"
	"evonet/internal/cluster"
	"evonet/internal/config"
	"evonet/internal/evo"
	"evonet/internal/metrics"
	"evonet/internal/mlp"
	"evonet/internal/model"
	"evonet/internal/scape"
	"evonet/internal/storage"
)

type Options struct {
	StoreKind string
	DBPath    string
	Logger    *zap.Logger
}

type Client struct {
	store  storage.Store
	logger *zap.Logger
}

type RunSummary struct {
	RunID            string
	Status           string
	StartGeneration  int
	FinalGeneration  int
	BestByGeneration []float64
	BestFitness      float64
}

type RunsRequest struct {
	Limit int
}

type GenerationsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{store: store, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Reset(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

// Run executes cfg. In local mode every rank runs in this process; in
// websocket mode this process is cfg.Cluster.Rank and rank 0 coordinates.
// Only rank 0 writes to the run ledger and reports a full summary.
func (c *Client) Run(ctx context.Context, cfg *config.Config) (RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	sim, err := scape.New(cfg.Scape.Name)
	if err != nil {
		return RunSummary{}, err
	}
	factory, err := mlp.NewFactory(mlp.Topology{
		Inputs:  sim.Inputs(),
		Hidden:  cfg.Genome.Hidden,
		Outputs: sim.Outputs(),
	}, cfg.Genome.Params())
	if err != nil {
		return RunSummary{}, err
	}

	switch cfg.Cluster.Mode {
	case config.ClusterWebsocket:
		return c.runRemote(ctx, cfg, factory)
	default:
		return c.runLocal(ctx, cfg, factory)
	}
}

func (c *Client) runLocal(ctx context.Context, cfg *config.Config, factory *mlp.Factory) (RunSummary, error) {
	groups, err := cluster.LocalGroups(cfg.Cluster.Ranks)
	if err != nil {
		return RunSummary{}, err
	}

	var summary RunSummary
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			s, err := c.runRank(gctx, cfg, factory, group)
			if group.Rank() == 0 {
				summary = s
			}
			return err
		})
	}
	err = g.Wait()
	return summary, err
}

func (c *Client) runRemote(ctx context.Context, cfg *config.Config, factory *mlp.Factory) (RunSummary, error) {
	joinCtx, cancel := context.WithTimeout(ctx, cfg.Cluster.JoinTimeout)
	defer cancel()
	// the redistributed population is the largest frame
	maxPayload := cluster.FrameLimit(checkpoint.EncodedSize(cfg.Run.PopulationSize, factory.Topology().NumWeights()))

	if cfg.Cluster.Rank == 0 {
		coord, err := cluster.NewCoordinator(cfg.Cluster.Addr, cfg.Cluster.Ranks, maxPayload, c.logger)
		if err != nil {
			return RunSummary{}, err
		}
		defer coord.Close()
		if err := coord.Wait(joinCtx); err != nil {
			return RunSummary{}, fmt.Errorf("waiting for %d peers: %w", cfg.Cluster.Ranks-1, err)
		}
		return c.runRank(ctx, cfg, factory, coord)
	}

	peer, err := cluster.Dial(joinCtx, cfg.Cluster.Addr, cfg.Cluster.Rank, cfg.Cluster.Ranks, maxPayload, c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	defer peer.Close()
	return c.runRank(ctx, cfg, factory, peer)
}

func (c *Client) runRank(ctx context.Context, cfg *config.Config, factory *mlp.Factory, group cluster.Group) (RunSummary, error) {
	rank := group.Rank()
	sim, err := scape.New(cfg.Scape.Name)
	if err != nil {
		return RunSummary{}, err
	}

	engineCfg := evo.Config{
		PopulationSize:  cfg.Run.PopulationSize,
		EliteFraction:   cfg.Run.EliteFraction,
		Workers:         cfg.Run.Workers,
		Seed:            cfg.Run.Seed + int64(rank),
		CheckpointEvery: cfg.Checkpoint.Every,
		ExchangeFitness: cfg.Run.ExchangeFitness,
		Factory:         factory,
		Simulation:      sim,
		Group:           group,
		Logger:          c.logger,
	}
	if rank != 0 {
		engine, err := evo.NewEngine(engineCfg)
		if err != nil {
			return RunSummary{}, err
		}
		result, err := engine.Run(ctx, cfg.Run.Generations)
		return RunSummary{FinalGeneration: result.Generation}, err
	}

	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID))
	engineCfg.Logger = logger
	if cfg.Checkpoint.Path != "" {
		engineCfg.Checkpoints = checkpoint.NewFileStore(cfg.Checkpoint.Path, logger)
	}
	ledger := &ledgerObserver{store: c.store, runID: runID, path: cfg.Checkpoint.Path}
	recorder := metrics.NewRecorder(runID)
	engineCfg.Observers = []evo.Observer{ledger, recorder}

	engine, err := evo.NewEngine(engineCfg)
	if err != nil {
		return RunSummary{}, err
	}

	if cfg.Metrics.Addr != "" {
		serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := recorder.Serve(serveCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer func() {
			stopServing()
			<-served
		}()
	}

	if err := engine.Initialize(ctx); err != nil {
		return RunSummary{RunID: runID}, err
	}
	run := model.Run{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Scape:           cfg.Scape.Name,
		PopulationSize:  cfg.Run.PopulationSize,
		NumWeights:      engine.NumWeights(),
		Ranks:           group.Size(),
		EliteFraction:   cfg.Run.EliteFraction,
		Seed:            cfg.Run.Seed,
		CheckpointPath:  cfg.Checkpoint.Path,
		StartGeneration: engine.Generation(),
		Status:          model.RunStatusRunning,
		StartedAt:       engine.StartedAt().UTC(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return RunSummary{RunID: runID}, fmt.Errorf("record run: %w", err)
	}

	result, runErr := engine.Run(ctx, cfg.Run.Generations)

	run.FinalGeneration = result.Generation
	run.BestFitness = result.BestFitness
	run.FinishedAt = time.Now().UTC()
	switch {
	case runErr != nil:
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	case ctx.Err() != nil:
		run.Status = model.RunStatusInterrupted
	default:
		run.Status = model.RunStatusCompleted
	}
	if err := c.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("record run: %w", err))
	}

	logger.Info("run finished",
		zap.String("status", run.Status),
		zap.Int("generation", run.FinalGeneration),
		zap.Float64("best", run.BestFitness),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return RunSummary{
		RunID:            runID,
		Status:           run.Status,
		StartGeneration:  run.StartGeneration,
		FinalGeneration:  result.Generation,
		BestByGeneration: result.BestByGeneration,
		BestFitness:      result.BestFitness,
	}, runErr
}

// Runs lists ledger entries, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.Run, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Run, 0, min(len(runs), req.Limit))
	for i := len(runs) - 1; i >= 0 && len(out) < req.Limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

// Generations returns per-generation statistics of one run. Limit keeps the
// most recent entries.
func (c *Client) Generations(ctx context.Context, req GenerationsRequest) ([]model.GenerationStats, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return nil, errors.New("generations requires run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	stats, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(stats) > req.Limit {
		stats = stats[len(stats)-req.Limit:]
	}
	return stats, nil
}

func (c *Client) Checkpoints(ctx context.Context, runID string, latest bool) ([]model.CheckpointEvent, error) {
	runID, err := c.resolveRunID(ctx, runID, latest)
	if err != nil {
		return nil, err
	}
	return c.store.GetCheckpoints(ctx, runID)
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if err := c.store.Init(ctx); err != nil {
		return "", err
	}
	if !latest {
		if _, ok, err := c.store.GetRun(ctx, runID); err != nil {
			return "", err
		} else if !ok {
			return "", fmt.Errorf("run not found: %s", runID)
		}
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs recorded")
	}
	return runs[len(runs)-1].ID, nil
}

// ledgerObserver records rank 0 progress in the run ledger.
type ledgerObserver struct {
	store storage.Store
	runID string
	path  string
}

func (o *ledgerObserver) GenerationCompleted(ctx context.Context, report evo.GenerationReport) error {
	ctx = context.WithoutCancel(ctx)
	lineage := make([]model.LineageRecord, len(report.Lineage))
	for i, rec := range report.Lineage {
		lineage[i] = model.LineageRecord{
			Slot:      rec.Slot,
			Operation: rec.Operation,
			ParentA:   rec.ParentA,
			ParentB:   rec.ParentB,
		}
	}
	return o.store.AppendGeneration(ctx, model.GenerationStats{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           o.runID,
		Generation:      report.Generation,
		BestFitness:     report.BestFitness,
		MeanFitness:     report.MeanFitness,
		MinFitness:      report.MinFitness,
		EliteSize:       report.EliteSize,
		Evaluations:     report.Evaluations,
		Duration:        report.Duration,
		CompletedAt:     time.Now().UTC(),
		Lineage:         lineage,
	})
}

func (o *ledgerObserver) CheckpointSaved(ctx context.Context, generation int, size int64) error {
	ctx = context.WithoutCancel(ctx)
	return o.store.AppendCheckpoint(ctx, model.CheckpointEvent{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           o.runID,
		Generation:      generation,
		Path:            o.path,
		Bytes:           size,
		SavedAt:         time.Now().UTC(),
	})
}
