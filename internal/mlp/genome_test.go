package mlp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologyNumWeights(t *testing.T) {
	assert.Equal(t, 9, Topology{Inputs: 2, Hidden: []int{2}, Outputs: 1}.NumWeights())
	assert.Equal(t, 3, Topology{Inputs: 2, Outputs: 1}.NumWeights())
	assert.Equal(t, (1+1)*8+(8+1)*8+(8+1)*1, Topology{Inputs: 1, Hidden: []int{8, 8}, Outputs: 1}.NumWeights())
}

func TestNewFactoryValidates(t *testing.T) {
	_, err := NewFactory(Topology{Inputs: 0, Outputs: 1}, DefaultParams())
	require.Error(t, err)
	_, err = NewFactory(Topology{Inputs: 2, Hidden: []int{0}, Outputs: 1}, DefaultParams())
	require.Error(t, err)
	params := DefaultParams()
	params.MutationRate = 2
	_, err = NewFactory(Topology{Inputs: 2, Outputs: 1}, params)
	require.Error(t, err)
}

func TestNewGenomeRespectsInitRange(t *testing.T) {
	params := DefaultParams()
	params.InitRange = 0.5
	params.ConnectionProb = 1
	factory, err := NewFactory(Topology{Inputs: 3, Hidden: []int{4}, Outputs: 2}, params)
	require.NoError(t, err)

	g := factory.NewGenome(rand.New(rand.NewSource(1)))
	require.Equal(t, factory.Topology().NumWeights(), g.NumWeights())
	for _, w := range g.Weights() {
		assert.LessOrEqual(t, math.Abs(w), 0.5)
	}
	for _, c := range g.Connections() {
		assert.True(t, c)
	}
}

func TestForwardComputesDenseLayers(t *testing.T) {
	factory, err := NewFactory(Topology{Inputs: 2, Hidden: []int{1}, Outputs: 1}, DefaultParams())
	require.NoError(t, err)
	g := factory.NewGenome(rand.New(rand.NewSource(2))).(*Genome)

	// hidden: w0*x0 + w1*x1 + b, output: v*h + c
	require.NoError(t, g.SetWeights([]float64{0.5, -1, 0.25, 2, -0.5}))
	require.NoError(t, g.SetConnections([]bool{true, true, true, true, true}))

	out, err := g.Forward([]float64{1, 0.5})
	require.NoError(t, err)
	h := math.Tanh(0.5*1 - 1*0.5 + 0.25)
	assert.InDelta(t, 1/(1+math.Exp(-(2*h-0.5))), out[0], 1e-12)

	require.NoError(t, g.SetConnections([]bool{true, false, false, true, false}))
	out, err = g.Forward([]float64{1, 0.5})
	require.NoError(t, err)
	h = math.Tanh(0.5)
	assert.InDelta(t, 1/(1+math.Exp(-2*h)), out[0], 1e-12)

	_, err = g.Forward([]float64{1})
	require.Error(t, err)
}

func TestMateTakesEachWeightWithItsConnectionBit(t *testing.T) {
	params := DefaultParams()
	params.MutationRate = 0
	params.FlipRate = 0
	factory, err := NewFactory(Topology{Inputs: 4, Hidden: []int{4}, Outputs: 2}, params)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))

	a := factory.NewGenome(rng).(*Genome)
	b := factory.NewGenome(rng).(*Genome)
	for i := range a.weights {
		a.weights[i], a.connections[i] = 1, true
		b.weights[i], b.connections[i] = -1, false
	}
	child := factory.NewGenome(rng)
	require.NoError(t, a.Mate(rng, b, child))

	fromA, fromB := 0, 0
	connections := child.Connections()
	for i, w := range child.Weights() {
		switch w {
		case 1:
			assert.True(t, connections[i])
			fromA++
		case -1:
			assert.False(t, connections[i])
			fromB++
		default:
			t.Fatalf("weight %d = %v came from neither parent", i, w)
		}
	}
	assert.Positive(t, fromA)
	assert.Positive(t, fromB)
}

func TestMateMutatesChild(t *testing.T) {
	params := DefaultParams()
	params.MutationRate = 1
	params.FlipRate = 0
	factory, err := NewFactory(Topology{Inputs: 2, Hidden: []int{3}, Outputs: 1}, params)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(4))

	a := factory.NewGenome(rng)
	child := factory.NewGenome(rng)
	require.NoError(t, a.Mate(rng, a, child))
	assert.NotEqual(t, a.Weights(), child.Weights())
	assert.Equal(t, a.Connections(), child.Connections())
}

func TestMateRejectsMismatchedTopology(t *testing.T) {
	small, err := NewFactory(Topology{Inputs: 2, Outputs: 1}, DefaultParams())
	require.NoError(t, err)
	large, err := NewFactory(Topology{Inputs: 3, Outputs: 1}, DefaultParams())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(5))

	require.Error(t, small.NewGenome(rng).Mate(rng, large.NewGenome(rng), small.NewGenome(rng)))
}

func TestSetWeightsChecksLength(t *testing.T) {
	factory, err := NewFactory(Topology{Inputs: 2, Outputs: 1}, DefaultParams())
	require.NoError(t, err)
	g := factory.NewGenome(rand.New(rand.NewSource(6)))
	require.Error(t, g.SetWeights([]float64{1}))
	require.Error(t, g.SetConnections([]bool{true}))
}
