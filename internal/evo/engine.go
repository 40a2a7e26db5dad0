package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evonet/internal/checkpoint"
	"evonet/internal/cluster"
)

// CheckpointStore persists population snapshots.
type CheckpointStore interface {
	Load(populationSize, numWeights int) (checkpoint.Record, bool, error)
	Save(rec checkpoint.Record) (int64, error)
}

// Observer receives rank 0 progress events.
type Observer interface {
	GenerationCompleted(ctx context.Context, report GenerationReport) error
	CheckpointSaved(ctx context.Context, generation int, size int64) error
}

// GenerationReport summarizes one evaluated generation. Fitness fields and
// Lineage are only populated on rank 0.
type GenerationReport struct {
	Generation  int
	BestFitness float64
	MeanFitness float64
	MinFitness  float64
	EliteSize   int
	Evaluations int
	Duration    time.Duration
	Lineage     []LineageRecord
}

type Config struct {
	PopulationSize int
	EliteFraction  float64
	// Workers bounds concurrent fitness evaluations inside one rank.
	Workers         int
	Seed            int64
	CheckpointEvery int
	// ExchangeFitness shares shard fitness between ranks before selection so
	// rank 0 does not re-evaluate individuals it did not own.
	ExchangeFitness bool

	Factory     GenomeFactory
	Simulation  Simulation
	Group       cluster.Group
	Checkpoints CheckpointStore
	Observers   []Observer
	Logger      *zap.Logger
}

// Engine runs the generational loop for one rank.
type Engine struct {
	cfg        Config
	rank       int
	size       int
	shards     []cluster.Shard
	eliteCount int
	numWeights int
	rng        *rand.Rand
	logger     *zap.Logger

	population *Population
	startedAt  time.Time
	lastSaved  int
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("genome factory is required")
	}
	if cfg.Simulation == nil {
		return nil, fmt.Errorf("simulation is required")
	}
	if cfg.Group == nil {
		return nil, fmt.Errorf("process group is required")
	}
	if cfg.EliteFraction == 0 {
		cfg.EliteFraction = DefaultEliteFraction
	}
	if err := ValidateSizes(cfg.PopulationSize, cfg.EliteFraction); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("checkpoint interval must be >= 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rank, size := cfg.Group.Rank(), cfg.Group.Size()
	shards, err := cluster.Partition(cfg.PopulationSize, size)
	if err != nil {
		return nil, err
	}
	probe := cfg.Factory.NewGenome(rand.New(rand.NewSource(cfg.Seed)))
	if probe == nil || probe.NumWeights() <= 0 {
		return nil, fmt.Errorf("genome factory must produce genomes with at least one weight")
	}

	return &Engine{
		cfg:        cfg,
		rank:       rank,
		size:       size,
		shards:     shards,
		eliteCount: EliteCount(cfg.PopulationSize, cfg.EliteFraction),
		numWeights: probe.NumWeights(),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		logger:     cfg.Logger.Named("evo").With(zap.Int("rank", rank)),
	}, nil
}

func (e *Engine) Rank() int { return e.rank }

// Shard is the slice of the population this rank evaluates.
func (e *Engine) Shard() cluster.Shard { return e.shards[e.rank] }

func (e *Engine) EliteCount() int { return e.eliteCount }

func (e *Engine) NumWeights() int { return e.numWeights }

func (e *Engine) StartedAt() time.Time { return e.startedAt }

func (e *Engine) Population() *Population { return e.population }

// Generation returns the current generation counter, 0 before Initialize.
func (e *Engine) Generation() int {
	if e.population == nil {
		return 0
	}
	return e.population.Generation
}

// Initialize resumes from the checkpoint store or creates a random
// population, makes every rank hold rank 0's population and runs the
// simulation's one-time setup.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.rank == 0 {
		pop, err := e.loadOrCreate()
		if err != nil {
			return err
		}
		e.population = pop
	}
	if e.size > 1 {
		if err := e.syncInitial(ctx); err != nil {
			return err
		}
	}
	if err := e.cfg.Simulation.Init(ctx, e.population.Individuals); err != nil {
		return fmt.Errorf("simulation init: %w", err)
	}
	e.startedAt = time.Now()
	e.logger.Info("population initialized",
		zap.Int("generation", e.population.Generation),
		zap.Int("population", e.population.Size()),
		zap.Int("weights", e.numWeights),
		zap.Int("shard_start", e.Shard().Start),
		zap.Int("shard_end", e.Shard().End),
	)
	return nil
}

func (e *Engine) loadOrCreate() (*Population, error) {
	if e.cfg.Checkpoints != nil {
		rec, ok, err := e.cfg.Checkpoints.Load(e.cfg.PopulationSize, e.numWeights)
		if err != nil {
			return nil, err
		}
		if ok {
			pop, err := PopulationFromRecord(e.cfg.Factory, e.rng, rec)
			if err != nil {
				return nil, fmt.Errorf("restore checkpoint: %w", err)
			}
			e.lastSaved = pop.Generation
			e.logger.Info("resuming from checkpoint", zap.Int("generation", pop.Generation))
			return pop, nil
		}
	}
	e.logger.Info("creating random population", zap.Int("population", e.cfg.PopulationSize))
	return RandomPopulation(e.cfg.Factory, e.rng, e.cfg.PopulationSize), nil
}

func (e *Engine) syncInitial(ctx context.Context) error {
	var payload []byte
	if e.rank == 0 {
		data, err := checkpoint.Marshal(e.population.Record())
		if err != nil {
			return err
		}
		payload = data
	}
	data, err := e.cfg.Group.Broadcast(ctx, 0, payload)
	if err != nil {
		return fmt.Errorf("broadcast initial population: %w", err)
	}
	if e.rank == 0 {
		return nil
	}
	return e.adopt(data, 0)
}

// adopt replaces the local population with a broadcast one. A non-zero
// wantGeneration must match the decoded generation.
func (e *Engine) adopt(data []byte, wantGeneration int) error {
	rec, err := checkpoint.Unmarshal(data, e.cfg.PopulationSize, e.numWeights)
	if err != nil {
		return fmt.Errorf("%w: decode population: %v", cluster.ErrProtocol, err)
	}
	if wantGeneration != 0 && rec.Generation != wantGeneration {
		return fmt.Errorf("%w: received generation %d, expected %d", cluster.ErrProtocol, rec.Generation, wantGeneration)
	}
	pop, err := PopulationFromRecord(e.cfg.Factory, e.rng, rec)
	if err != nil {
		return err
	}
	e.population = pop
	return nil
}

// evaluate computes missing fitness values with up to Workers goroutines and
// returns how many simulations ran.
func (e *Engine) evaluate(ctx context.Context, individuals []*Individual) (int, error) {
	var evaluations atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, ind := range individuals {
		if ind.Evaluated() {
			continue
		}
		ind := ind
		g.Go(func() error {
			ran, err := ind.CalculateFitness(gctx, e.cfg.Simulation)
			if err != nil {
				return err
			}
			if ran {
				evaluations.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(evaluations.Load()), fmt.Errorf("evaluate fitness: %w", err)
	}
	return int(evaluations.Load()), nil
}

// BestIndividuals brings every fitness up to date, sorts the population by
// descending fitness and returns the elite pool.
func (e *Engine) BestIndividuals(ctx context.Context) ([]*Individual, error) {
	if _, err := e.evaluate(ctx, e.population.Individuals); err != nil {
		return nil, err
	}
	SortByFitness(e.population.Individuals)
	return e.population.Individuals[:e.eliteCount], nil
}

// NextGeneration builds the replacement population from the elite pool.
func (e *Engine) NextGeneration(elite []*Individual) ([]*Individual, []LineageRecord, error) {
	return Reproduce(e.cfg.Factory, e.rng, elite, e.cfg.PopulationSize)
}

func (e *Engine) exchangeFitness(ctx context.Context) error {
	for root, shard := range e.shards {
		var payload []byte
		if root == e.rank {
			payload = encodeShardFitness(shard, e.population.Individuals)
		}
		data, err := e.cfg.Group.Broadcast(ctx, root, payload)
		if err != nil {
			return fmt.Errorf("exchange fitness from rank %d: %w", root, err)
		}
		if root == e.rank {
			continue
		}
		values, err := decodeShardFitness(data, shard)
		if err != nil {
			return err
		}
		for i, v := range values {
			e.population.Individuals[shard.Start+i].SetFitness(v)
		}
	}
	return nil
}

// UpdateAndEvolve runs one generation: shard evaluation, selection and
// reproduction on rank 0, then redistribution of the new population.
func (e *Engine) UpdateAndEvolve(ctx context.Context) (GenerationReport, error) {
	if e.population == nil {
		return GenerationReport{}, fmt.Errorf("engine is not initialized")
	}
	start := time.Now()
	report := GenerationReport{Generation: e.population.Generation}

	shard := e.Shard()
	n, err := e.evaluate(ctx, e.population.Individuals[shard.Start:shard.End+1])
	report.Evaluations += n
	if err != nil {
		return report, err
	}
	if e.cfg.ExchangeFitness && e.size > 1 {
		if err := e.exchangeFitness(ctx); err != nil {
			return report, err
		}
	}
	if err := e.cfg.Group.Barrier(ctx); err != nil {
		return report, fmt.Errorf("barrier after evaluation: %w", err)
	}

	if e.rank == 0 {
		before := countEvaluated(e.population.Individuals)
		elite, err := e.BestIndividuals(ctx)
		if err != nil {
			return report, err
		}
		report.Evaluations += countEvaluated(e.population.Individuals) - before
		summarize(&report, e.population.Individuals, len(elite))

		next, lineage, err := e.NextGeneration(elite)
		if err != nil {
			return report, err
		}
		report.Lineage = lineage
		e.population = &Population{Generation: e.population.Generation + 1, Individuals: next}
	}

	if err := e.cfg.Group.Barrier(ctx); err != nil {
		return report, fmt.Errorf("barrier after selection: %w", err)
	}
	if e.size > 1 {
		if err := e.redistribute(ctx, report.Generation+1); err != nil {
			return report, err
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (e *Engine) redistribute(ctx context.Context, generation int) error {
	var payload []byte
	if e.rank == 0 {
		data, err := checkpoint.Marshal(e.population.Record())
		if err != nil {
			return err
		}
		payload = data
	}
	data, err := e.cfg.Group.Broadcast(ctx, 0, payload)
	if err != nil {
		return fmt.Errorf("broadcast generation %d: %w", generation, err)
	}
	if e.rank == 0 {
		return nil
	}
	return e.adopt(data, generation)
}

// RunResult is the outcome of Run on rank 0; other ranks only fill Generation.
type RunResult struct {
	Generation       int
	BestByGeneration []float64
	BestFitness      float64
}

// Run repeats UpdateAndEvolve. generations == 0 runs until ctx is cancelled;
// the context is checked between generations. Rank 0 saves checkpoints every
// CheckpointEvery generations and once more on exit.
func (e *Engine) Run(ctx context.Context, generations int) (RunResult, error) {
	if e.population == nil {
		if err := e.Initialize(ctx); err != nil {
			return RunResult{}, err
		}
	}

	var result RunResult
	for done := 0; generations == 0 || done < generations; done++ {
		if ctx.Err() != nil {
			break
		}
		report, err := e.UpdateAndEvolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("generation interrupted", zap.Int("generation", report.Generation), zap.Error(err))
				break
			}
			return result, err
		}
		if e.rank != 0 {
			continue
		}

		result.BestByGeneration = append(result.BestByGeneration, report.BestFitness)
		if len(result.BestByGeneration) == 1 || report.BestFitness > result.BestFitness {
			result.BestFitness = report.BestFitness
		}
		e.logger.Info("generation complete",
			zap.Int("generation", report.Generation),
			zap.Float64("best", report.BestFitness),
			zap.Float64("mean", report.MeanFitness),
			zap.Float64("min", report.MinFitness),
			zap.Int("elite", report.EliteSize),
			zap.Int("evaluations", report.Evaluations),
			zap.Duration("duration", report.Duration),
			zap.Duration("elapsed", time.Since(e.startedAt)),
		)
		e.notify(func(o Observer) error { return o.GenerationCompleted(ctx, report) })

		if e.cfg.CheckpointEvery > 0 && e.population.Generation%e.cfg.CheckpointEvery == 0 {
			if err := e.saveCheckpoint(ctx); err != nil {
				return result, err
			}
		}
	}

	result.Generation = e.population.Generation
	if e.rank == 0 && e.lastSaved != e.population.Generation {
		if err := e.saveCheckpoint(context.WithoutCancel(ctx)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context) error {
	if e.cfg.Checkpoints == nil {
		return nil
	}
	size, err := e.cfg.Checkpoints.Save(e.population.Record())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	e.lastSaved = e.population.Generation
	generation := e.population.Generation
	e.notify(func(o Observer) error { return o.CheckpointSaved(ctx, generation, size) })
	return nil
}

func (e *Engine) notify(fn func(Observer) error) {
	for _, o := range e.cfg.Observers {
		if err := fn(o); err != nil {
			e.logger.Warn("observer failed", zap.Error(err))
		}
	}
}

func countEvaluated(individuals []*Individual) int {
	n := 0
	for _, ind := range individuals {
		if ind.evaluated {
			n++
		}
	}
	return n
}

func summarize(report *GenerationReport, ranked []*Individual, eliteSize int) {
	if len(ranked) == 0 {
		return
	}
	total := 0.0
	minFitness := ranked[0].fitness
	for _, ind := range ranked {
		total += ind.fitness
		if ind.fitness < minFitness {
			minFitness = ind.fitness
		}
	}
	report.BestFitness = ranked[0].fitness
	report.MeanFitness = total / float64(len(ranked))
	report.MinFitness = minFitness
	report.EliteSize = eliteSize
}
