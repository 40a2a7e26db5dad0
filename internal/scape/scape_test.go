package scape

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonet/internal/evo"
	"evonet/internal/mlp"
)

// funcNetwork is a genome whose output is computed by fn.
type funcNetwork struct {
	fn func([]float64) []float64
}

func (funcNetwork) NumWeights() int { return 1 }
func (funcNetwork) Weights() []float64 { return []float64{0} }
func (funcNetwork) SetWeights([]float64) error { return nil }
func (funcNetwork) Connections() []bool { return []bool{true} }
func (funcNetwork) SetConnections([]bool) error { return nil }
func (funcNetwork) Mate(*rand.Rand, evo.Genome, evo.Genome) error { return nil }
func (n funcNetwork) Forward(input []float64) ([]float64, error) { return n.fn(input), nil }

// plainGenome hides Forward behind a mismatched signature.
type plainGenome struct{ funcNetwork }

func (plainGenome) Forward() {}

func TestNewLooksUpScapesByName(t *testing.T) {
	s, err := New("XOR")
	require.NoError(t, err)
	assert.Equal(t, "xor", s.Name())

	s, err = New(" sine ")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Inputs())

	_, err = New("pole")
	require.ErrorContains(t, err, "unknown scape")
	assert.Equal(t, []string{"sine", "xor"}, Names())
}

func TestXORFitness(t *testing.T) {
	ctx := context.Background()
	perfect := funcNetwork{fn: func(in []float64) []float64 {
		if in[0] != in[1] {
			return []float64{1}
		}
		return []float64{0}
	}}
	fitness, err := XORScape{}.Evaluate(ctx, perfect)
	require.NoError(t, err)
	assert.Equal(t, 4.0, fitness)

	half := funcNetwork{fn: func([]float64) []float64 { return []float64{0.5} }}
	fitness, err = XORScape{}.Evaluate(ctx, half)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, fitness, 1e-12)
}

func TestXORRejectsWrongOutputWidth(t *testing.T) {
	wide := funcNetwork{fn: func([]float64) []float64 { return []float64{0, 0} }}
	_, err := XORScape{}.Evaluate(context.Background(), wide)
	require.Error(t, err)
}

func TestSineFitness(t *testing.T) {
	ctx := context.Background()
	s := NewSineScape(DefaultSineSamples)
	exact := funcNetwork{fn: func(in []float64) []float64 {
		return []float64{(math.Sin(in[0]*math.Pi) + 1) / 2}
	}}
	fitness, err := s.Evaluate(ctx, exact)
	require.NoError(t, err)
	assert.InDelta(t, 0, fitness, 1e-12)

	flat := funcNetwork{fn: func([]float64) []float64 { return []float64{0.5} }}
	fitness, err = s.Evaluate(ctx, flat)
	require.NoError(t, err)
	assert.Less(t, fitness, 0.0)
}

func TestInitRequiresRunnableGenomes(t *testing.T) {
	ctx := context.Background()
	require.Error(t, XORScape{}.Init(ctx, []*evo.Individual{evo.NewIndividual(plainGenome{})}))

	factory, err := mlp.NewFactory(mlp.Topology{Inputs: 2, Hidden: []int{2}, Outputs: 1}, mlp.DefaultParams())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	population := []*evo.Individual{evo.NewIndividual(factory.NewGenome(rng))}
	require.NoError(t, XORScape{}.Init(ctx, population))

	fitness, err := XORScape{}.Evaluate(ctx, population[0].Genome())
	require.NoError(t, err)
	assert.True(t, fitness > 0 && fitness <= 4)
}

func TestEvaluateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSineScape(8).Evaluate(ctx, funcNetwork{fn: func([]float64) []float64 { return []float64{0} }})
	require.ErrorIs(t, err, context.Canceled)
}
