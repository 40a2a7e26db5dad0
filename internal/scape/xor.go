package scape

import (
	"context"

	"evonet/internal/evo"
)

type xorCase struct {
	in   []float64
	want float64
}

var xorCases = []xorCase{
	{in: []float64{0, 0}, want: 0},
	{in: []float64{0, 1}, want: 1},
	{in: []float64{1, 0}, want: 1},
	{in: []float64{1, 1}, want: 0},
}

// XORScape scores a two-input network on the XOR truth table. Fitness is
// 4 minus the summed squared error, so a perfect network scores 4.
type XORScape struct{}

func (XORScape) Name() string { return "xor" }

func (XORScape) Inputs() int { return 2 }

func (XORScape) Outputs() int { return 1 }

func (s XORScape) Init(_ context.Context, population []*evo.Individual) error {
	return checkNetworks(s.Name(), population)
}

func (s XORScape) Evaluate(ctx context.Context, genome evo.Genome) (float64, error) {
	var sse float64
	for _, c := range xorCases {
		out, err := run(ctx, s.Name(), genome, c.in, 1)
		if err != nil {
			return 0, err
		}
		delta := out[0] - c.want
		sse += delta * delta
	}
	return float64(len(xorCases)) - sse, nil
}
