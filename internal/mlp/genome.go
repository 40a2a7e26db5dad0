// Package mlp implements evo.Genome as a fixed-topology multilayer perceptron
// whose weights can be switched off individually by a connection mask.
package mlp

import (
	"fmt"
	"math"
	"math/rand"

	"evonet/internal/evo"
)

// Topology lists layer widths. Every layer is dense with a bias input.
type Topology struct {
	Inputs  int   `yaml:"inputs" ini:"inputs"`
	Hidden  []int `yaml:"hidden" ini:"hidden" delim:","`
	Outputs int   `yaml:"outputs" ini:"outputs"`
}

func (t Topology) layers() []int {
	widths := make([]int, 0, len(t.Hidden)+2)
	widths = append(widths, t.Inputs)
	widths = append(widths, t.Hidden...)
	return append(widths, t.Outputs)
}

// NumWeights returns Σ (in+1)·out over consecutive layers.
func (t Topology) NumWeights() int {
	widths := t.layers()
	total := 0
	for i := 1; i < len(widths); i++ {
		total += (widths[i-1] + 1) * widths[i]
	}
	return total
}

func (t Topology) Validate() error {
	if t.Inputs <= 0 || t.Outputs <= 0 {
		return fmt.Errorf("topology needs inputs and outputs, got %d and %d", t.Inputs, t.Outputs)
	}
	for i, h := range t.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d has width %d", i, h)
		}
	}
	return nil
}

// Params controls initialization and mutation.
type Params struct {
	InitRange      float64 `yaml:"init_range" ini:"init_range"`
	ConnectionProb float64 `yaml:"connection_prob" ini:"connection_prob"`
	MutationRate   float64 `yaml:"mutation_rate" ini:"mutation_rate"`
	MutationPower  float64 `yaml:"mutation_power" ini:"mutation_power"`
	FlipRate       float64 `yaml:"flip_rate" ini:"flip_rate"`
}

func DefaultParams() Params {
	return Params{
		InitRange:      1,
		ConnectionProb: 0.9,
		MutationRate:   0.1,
		MutationPower:  0.5,
		FlipRate:       0.01,
	}
}

func (p Params) Validate() error {
	if p.InitRange <= 0 {
		return fmt.Errorf("init_range must be > 0")
	}
	for name, v := range map[string]float64{
		"connection_prob": p.ConnectionProb,
		"mutation_rate":   p.MutationRate,
		"flip_rate":       p.FlipRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if p.MutationPower < 0 {
		return fmt.Errorf("mutation_power must be >= 0")
	}
	return nil
}

type Genome struct {
	topology    Topology
	params      Params
	weights     []float64
	connections []bool
}

var _ evo.Genome = (*Genome)(nil)

func (g *Genome) Topology() Topology { return g.topology }

func (g *Genome) NumWeights() int { return len(g.weights) }

func (g *Genome) Weights() []float64 {
	return append([]float64(nil), g.weights...)
}

func (g *Genome) SetWeights(weights []float64) error {
	if len(weights) != len(g.weights) {
		return fmt.Errorf("weights length %d, topology needs %d", len(weights), len(g.weights))
	}
	copy(g.weights, weights)
	return nil
}

func (g *Genome) Connections() []bool {
	return append([]bool(nil), g.connections...)
}

func (g *Genome) SetConnections(connections []bool) error {
	if len(connections) != len(g.connections) {
		return fmt.Errorf("connections length %d, topology needs %d", len(connections), len(g.connections))
	}
	copy(g.connections, connections)
	return nil
}

// Mate fills child with a uniform crossover of g and other, then mutates it.
// Each weight travels with its connection bit.
func (g *Genome) Mate(rng *rand.Rand, other, child evo.Genome) error {
	o, ok := other.(*Genome)
	if !ok {
		return fmt.Errorf("cannot mate with %T", other)
	}
	c, ok := child.(*Genome)
	if !ok {
		return fmt.Errorf("cannot write child into %T", child)
	}
	if len(o.weights) != len(g.weights) || len(c.weights) != len(g.weights) {
		return fmt.Errorf("topology mismatch: %d, %d and %d weights", len(g.weights), len(o.weights), len(c.weights))
	}

	for i := range c.weights {
		src := g
		if rng.Intn(2) == 1 {
			src = o
		}
		c.weights[i] = src.weights[i]
		c.connections[i] = src.connections[i]
	}
	c.mutate(rng)
	return nil
}

func (g *Genome) mutate(rng *rand.Rand) {
	for i := range g.weights {
		if rng.Float64() < g.params.MutationRate {
			g.weights[i] += rng.NormFloat64() * g.params.MutationPower
		}
		if rng.Float64() < g.params.FlipRate {
			g.connections[i] = !g.connections[i]
		}
	}
}

// Forward evaluates the network. Hidden layers use tanh and the output layer
// a logistic sigmoid.
func (g *Genome) Forward(input []float64) ([]float64, error) {
	if len(input) != g.topology.Inputs {
		return nil, fmt.Errorf("input width %d, topology needs %d", len(input), g.topology.Inputs)
	}
	widths := g.topology.layers()
	values := input
	offset := 0
	for layer := 1; layer < len(widths); layer++ {
		in, out := widths[layer-1], widths[layer]
		next := make([]float64, out)
		for j := 0; j < out; j++ {
			base := offset + j*(in+1)
			total := 0.0
			for k := 0; k < in; k++ {
				if g.connections[base+k] {
					total += values[k] * g.weights[base+k]
				}
			}
			if g.connections[base+in] {
				total += g.weights[base+in]
			}
			if layer == len(widths)-1 {
				next[j] = sigmoid(total)
			} else {
				next[j] = math.Tanh(total)
			}
		}
		offset += (in + 1) * out
		values = next
	}
	return values, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Factory creates random genomes for one topology.
type Factory struct {
	topology Topology
	params   Params
}

var _ evo.GenomeFactory = (*Factory)(nil)

func NewFactory(topology Topology, params Params) (*Factory, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Factory{topology: topology, params: params}, nil
}

func (f *Factory) Topology() Topology { return f.topology }

// NewGenome draws weights uniformly from [-InitRange, InitRange] and enables
// each connection with probability ConnectionProb.
func (f *Factory) NewGenome(rng *rand.Rand) evo.Genome {
	n := f.topology.NumWeights()
	g := &Genome{
		topology:    f.topology,
		params:      f.params,
		weights:     make([]float64, n),
		connections: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		g.weights[i] = (rng.Float64()*2 - 1) * f.params.InitRange
		g.connections[i] = rng.Float64() < f.params.ConnectionProb
	}
	return g
}
