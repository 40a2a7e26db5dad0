// Package scape holds the environments genomes are scored against.
package scape

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"evonet/internal/evo"
)

// Network is a genome that can be run forward on an input vector.
type Network interface {
	Forward(input []float64) ([]float64, error)
}

// Scape is an evo.Simulation with a fixed input/output shape.
type Scape interface {
	evo.Simulation
	Name() string
	Inputs() int
	Outputs() int
}

var registry = map[string]func() Scape{
	"xor":  func() Scape { return XORScape{} },
	"sine": func() Scape { return NewSineScape(DefaultSineSamples) },
}

// New returns the scape registered under name.
func New(name string) (Scape, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown scape %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkNetworks(name string, population []*evo.Individual) error {
	for i, ind := range population {
		if _, ok := ind.Genome().(Network); !ok {
			return fmt.Errorf("%s: individual %d genome %T cannot be run forward", name, i, ind.Genome())
		}
	}
	return nil
}

func run(ctx context.Context, name string, genome evo.Genome, input []float64, outputs int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	net, ok := genome.(Network)
	if !ok {
		return nil, fmt.Errorf("%s: genome %T cannot be run forward", name, genome)
	}
	out, err := net.Forward(input)
	if err != nil {
		return nil, err
	}
	if len(out) != outputs {
		return nil, fmt.Errorf("%s requires %d outputs, got %d", name, outputs, len(out))
	}
	return out, nil
}
