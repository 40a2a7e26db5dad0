package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

type vectorGenome struct {
	weights     []float64
	connections []bool
}

func (g *vectorGenome) NumWeights() int { return len(g.weights) }

func (g *vectorGenome) Weights() []float64 {
	return append([]float64(nil), g.weights...)
}

func (g *vectorGenome) SetWeights(weights []float64) error {
	if len(weights) != len(g.weights) {
		return fmt.Errorf("weights length %d, want %d", len(weights), len(g.weights))
	}
	copy(g.weights, weights)
	return nil
}

func (g *vectorGenome) Connections() []bool {
	return append([]bool(nil), g.connections...)
}

func (g *vectorGenome) SetConnections(connections []bool) error {
	if len(connections) != len(g.connections) {
		return fmt.Errorf("connections length %d, want %d", len(connections), len(g.connections))
	}
	copy(g.connections, connections)
	return nil
}

func (g *vectorGenome) Mate(rng *rand.Rand, other, child Genome) error {
	o, ok := other.(*vectorGenome)
	if !ok {
		return fmt.Errorf("unexpected genome type %T", other)
	}
	c, ok := child.(*vectorGenome)
	if !ok {
		return fmt.Errorf("unexpected genome type %T", child)
	}
	for i := range c.weights {
		src := g
		if rng.Intn(2) == 1 {
			src = o
		}
		c.weights[i] = src.weights[i] + rng.NormFloat64()*0.05
		c.connections[i] = src.connections[i]
	}
	return nil
}

func vectorFactory(n int) GenomeFactory {
	return GenomeFactoryFunc(func(rng *rand.Rand) Genome {
		g := &vectorGenome{weights: make([]float64, n), connections: make([]bool, n)}
		for i := range g.weights {
			g.weights[i] = rng.Float64()*2 - 1
			g.connections[i] = rng.Intn(4) != 0
		}
		return g
	})
}

// sumSimulation scores a genome by the sum of its connected weights.
type sumSimulation struct {
	calls    atomic.Int64
	inits    atomic.Int64
	failWith error
}

func (s *sumSimulation) Init(context.Context, []*Individual) error {
	s.inits.Add(1)
	return nil
}

func (s *sumSimulation) Evaluate(ctx context.Context, genome Genome) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.failWith != nil {
		return 0, s.failWith
	}
	s.calls.Add(1)
	total := 0.0
	connections := genome.Connections()
	for i, w := range genome.Weights() {
		if connections[i] {
			total += w
		}
	}
	return total, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	reports     []GenerationReport
	checkpoints []int
	onReport    func(GenerationReport)
}

func (o *recordingObserver) GenerationCompleted(_ context.Context, report GenerationReport) error {
	o.mu.Lock()
	o.reports = append(o.reports, report)
	o.mu.Unlock()
	if o.onReport != nil {
		o.onReport(report)
	}
	return nil
}

func (o *recordingObserver) CheckpointSaved(_ context.Context, generation int, _ int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkpoints = append(o.checkpoints, generation)
	return nil
}
