package evo

import (
	"fmt"
	"math/rand"

	"evonet/internal/checkpoint"
)

// Population is one generation of individuals. It is replaced as a whole at
// each generation boundary.
type Population struct {
	Generation  int
	Individuals []*Individual
}

func (p *Population) Size() int {
	return len(p.Individuals)
}

// Record snapshots the population in checkpoint form.
func (p *Population) Record() checkpoint.Record {
	rec := checkpoint.Record{
		Generation: p.Generation,
		Genomes:    make([]checkpoint.GenomeData, len(p.Individuals)),
	}
	for i, ind := range p.Individuals {
		rec.Genomes[i] = ind.data()
	}
	return rec
}

// RandomPopulation creates size individuals at generation 1.
func RandomPopulation(factory GenomeFactory, rng *rand.Rand, size int) *Population {
	individuals := make([]*Individual, size)
	for i := range individuals {
		individuals[i] = NewIndividual(factory.NewGenome(rng))
	}
	return &Population{Generation: 1, Individuals: individuals}
}

// PopulationFromRecord rebuilds individuals from a checkpoint record, using the
// factory for genome allocation.
func PopulationFromRecord(factory GenomeFactory, rng *rand.Rand, rec checkpoint.Record) (*Population, error) {
	individuals := make([]*Individual, len(rec.Genomes))
	for i, data := range rec.Genomes {
		g := factory.NewGenome(rng)
		if err := g.SetWeights(data.Weights); err != nil {
			return nil, fmt.Errorf("individual %d: %w", i, err)
		}
		if err := g.SetConnections(data.Connections); err != nil {
			return nil, fmt.Errorf("individual %d: %w", i, err)
		}
		individuals[i] = NewIndividual(g)
	}
	return &Population{Generation: rec.Generation, Individuals: individuals}, nil
}
