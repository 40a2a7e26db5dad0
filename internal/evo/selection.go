package evo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DefaultEliteFraction is the share of the population kept as the elite pool.
const DefaultEliteFraction = 0.2

var ErrDegeneratePopulation = errors.New("degenerate population")

const (
	OpEliteClone = "elite_clone"
	OpCrossover  = "crossover"
)

// LineageRecord describes how one slot of a new generation was filled.
// Parent indices refer to the elite pool.
type LineageRecord struct {
	Slot      int    `json:"slot"`
	Operation string `json:"operation"`
	ParentA   int    `json:"parent_a"`
	ParentB   int    `json:"parent_b"`
}

// EliteCount returns ⌊populationSize·fraction⌋.
func EliteCount(populationSize int, fraction float64) int {
	return int(math.Floor(float64(populationSize)*fraction + 1e-9))
}

// ValidateSizes rejects configurations whose elite pool would hold fewer than
// two individuals.
func ValidateSizes(populationSize int, fraction float64) error {
	if populationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0, got %d", ErrDegeneratePopulation, populationSize)
	}
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("%w: elite fraction must be in (0, 1], got %v", ErrDegeneratePopulation, fraction)
	}
	if n := EliteCount(populationSize, fraction); n < 2 {
		return fmt.Errorf("%w: population %d yields elite pool of %d, need at least 2", ErrDegeneratePopulation, populationSize, n)
	}
	return nil
}

// SortByFitness orders individuals by descending fitness.
func SortByFitness(individuals []*Individual) {
	sort.Slice(individuals, func(i, j int) bool {
		return individuals[i].fitness > individuals[j].fitness
	})
}

// Reproduce builds a generation of size individuals from a ranked elite pool.
// The first ⌊len(elite)/2⌋ slots are fresh copies of the best elites; every
// other slot is a child of two parents drawn uniformly, with replacement, from
// the whole pool.
func Reproduce(factory GenomeFactory, rng *rand.Rand, elite []*Individual, size int) ([]*Individual, []LineageRecord, error) {
	if len(elite) < 2 {
		return nil, nil, fmt.Errorf("%w: elite pool of %d", ErrDegeneratePopulation, len(elite))
	}
	clones := len(elite) / 2
	if size < clones {
		return nil, nil, fmt.Errorf("%w: generation size %d below elite clone count %d", ErrDegeneratePopulation, size, clones)
	}

	next := make([]*Individual, 0, size)
	lineage := make([]LineageRecord, 0, size)
	for i := 0; i < clones; i++ {
		clone, err := cloneGenome(factory, rng, elite[i].genome)
		if err != nil {
			return nil, nil, fmt.Errorf("elite %d: %w", i, err)
		}
		next = append(next, clone)
		lineage = append(lineage, LineageRecord{Slot: i, Operation: OpEliteClone, ParentA: i, ParentB: i})
	}

	for len(next) < size {
		a := rng.Intn(len(elite))
		b := rng.Intn(len(elite))
		child := NewIndividual(factory.NewGenome(rng))
		if err := elite[a].genome.Mate(rng, elite[b].genome, child.genome); err != nil {
			return nil, nil, fmt.Errorf("mate elites %d and %d: %w", a, b, err)
		}
		lineage = append(lineage, LineageRecord{Slot: len(next), Operation: OpCrossover, ParentA: a, ParentB: b})
		next = append(next, child)
	}
	return next, lineage, nil
}
