package evo

import (
	"context"
	"fmt"
	"math/rand"

	"evonet/internal/checkpoint"
)

// Genome is a fixed-length weight vector with a parallel connection mask.
type Genome interface {
	NumWeights() int
	Weights() []float64
	SetWeights(weights []float64) error
	Connections() []bool
	SetConnections(connections []bool) error
	// Mate writes a crossover of the receiver and other, mutated, into child.
	Mate(rng *rand.Rand, other, child Genome) error
}

// GenomeFactory creates random genomes of the run's topology.
type GenomeFactory interface {
	NewGenome(rng *rand.Rand) Genome
}

type GenomeFactoryFunc func(rng *rand.Rand) Genome

func (f GenomeFactoryFunc) NewGenome(rng *rand.Rand) Genome {
	return f(rng)
}

// Simulation scores genomes. Evaluate must be safe for concurrent use once
// Init has returned.
type Simulation interface {
	Init(ctx context.Context, population []*Individual) error
	Evaluate(ctx context.Context, genome Genome) (float64, error)
}

// Individual owns one genome and its fitness for the current generation.
type Individual struct {
	genome    Genome
	fitness   float64
	evaluated bool
}

func NewIndividual(genome Genome) *Individual {
	return &Individual{genome: genome}
}

func (i *Individual) Genome() Genome {
	return i.genome
}

func (i *Individual) Fitness() float64 {
	return i.fitness
}

// Evaluated reports whether Fitness is current.
func (i *Individual) Evaluated() bool {
	return i.evaluated
}

// SetFitness records a fitness computed elsewhere, e.g. on another rank.
func (i *Individual) SetFitness(fitness float64) {
	i.fitness = fitness
	i.evaluated = true
}

// CalculateFitness evaluates the genome unless a current value is cached.
// It reports whether the simulation was consulted.
func (i *Individual) CalculateFitness(ctx context.Context, sim Simulation) (bool, error) {
	if i.evaluated {
		return false, nil
	}
	fitness, err := sim.Evaluate(ctx, i.genome)
	if err != nil {
		return false, err
	}
	i.SetFitness(fitness)
	return true, nil
}

func (i *Individual) data() checkpoint.GenomeData {
	return checkpoint.GenomeData{
		Weights:     i.genome.Weights(),
		Connections: i.genome.Connections(),
	}
}

// cloneGenome builds a fresh individual carrying an exact copy of src.
func cloneGenome(factory GenomeFactory, rng *rand.Rand, src Genome) (*Individual, error) {
	g := factory.NewGenome(rng)
	if err := g.SetWeights(src.Weights()); err != nil {
		return nil, fmt.Errorf("copy weights: %w", err)
	}
	if err := g.SetConnections(src.Connections()); err != nil {
		return nil, fmt.Errorf("copy connections: %w", err)
	}
	return NewIndividual(g), nil
}
