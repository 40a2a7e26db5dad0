package scape

import (
	"context"
	"math"

	"evonet/internal/evo"
)

const DefaultSineSamples = 32

// SineScape scores a one-input network on sin(x) over [-π, π], with targets
// rescaled to [0, 1] to match a sigmoid output. Fitness is the negated MSE.
type SineScape struct {
	xs      []float64
	targets []float64
}

func NewSineScape(samples int) *SineScape {
	if samples < 2 {
		samples = 2
	}
	s := &SineScape{
		xs:      make([]float64, samples),
		targets: make([]float64, samples),
	}
	step := 2 * math.Pi / float64(samples-1)
	for i := range s.xs {
		x := -math.Pi + float64(i)*step
		s.xs[i] = x
		s.targets[i] = (math.Sin(x) + 1) / 2
	}
	return s
}

func (*SineScape) Name() string { return "sine" }

func (*SineScape) Inputs() int { return 1 }

func (*SineScape) Outputs() int { return 1 }

func (s *SineScape) Init(_ context.Context, population []*evo.Individual) error {
	return checkNetworks(s.Name(), population)
}

func (s *SineScape) Evaluate(ctx context.Context, genome evo.Genome) (float64, error) {
	var sse float64
	input := make([]float64, 1)
	for i, x := range s.xs {
		input[0] = x / math.Pi
		out, err := run(ctx, s.Name(), genome, input, 1)
		if err != nil {
			return 0, err
		}
		delta := out[0] - s.targets[i]
		sse += delta * delta
	}
	return -sse / float64(len(s.xs)), nil
}
