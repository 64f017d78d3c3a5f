// Package trainer runs collection passes over finite seed sets: a Collector
// drives a supervisor with a batched Policy, a Vessel bundles what one task
// needs, and a Trainer sequences train, validation and test passes.
package trainer

import (
	"context"
	"math/rand"

	"github.com/inference-sim/finite-rollout/sim"
)

// Policy maps one observation per supervisor slot to one action per slot.
// Observations of retired slots are defaults and their actions are ignored.
type Policy[PA any] interface {
	Act(ctx context.Context, obs []sim.Value) ([]PA, error)
}

// ConstantPolicy always returns Action.
type ConstantPolicy[PA any] struct {
	Action PA
}

func (p ConstantPolicy[PA]) Act(_ context.Context, obs []sim.Value) ([]PA, error) {
	out := make([]PA, len(obs))
	for i := range out {
		out[i] = p.Action
	}
	return out, nil
}

// RandomPolicy draws categorical actions uniformly from [0, N].
type RandomPolicy struct {
	N   int
	rng *rand.Rand
}

// NewRandomPolicy creates a RandomPolicy drawing from rng.
func NewRandomPolicy(n int, rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{N: n, rng: rng}
}

func (p *RandomPolicy) Act(_ context.Context, obs []sim.Value) ([]int, error) {
	out := make([]int, len(obs))
	for i := range out {
		out[i] = p.rng.Intn(p.N + 1)
	}
	return out, nil
}
