package trainer

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/env"
	"github.com/sirupsen/logrus"
)

// Phase is one kind of collection pass.
type Phase int

const (
	PhaseTrain Phase = iota
	PhaseVal
	PhaseTest
)

func (p Phase) String() string {
	switch p {
	case PhaseTrain:
		return "train"
	case PhaseVal:
		return "val"
	case PhaseTest:
		return "test"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrNoSeeds is returned when a vessel has no initial states for a phase.
var ErrNoSeeds = errors.New("trainer: no initial states for phase")

// RunInfo is what a vessel needs to know about the run it serves. It is
// passed in by the trainer instead of the vessel reaching back for it.
type RunInfo struct {
	FastDevRun int                 // > 0 cuts every seed set to a random subset of this size
	RNG        *sim.PartitionedRNG // nil means fixed fallback seeds
	Queue      sim.QueueConfig     // timing and size template for seed queues
}

// Vessel bundles one task: how to build a worker over a seed source, the
// observation schema, the policy and the initial states of each phase.
type Vessel[S, PA any] struct {
	NewWorker       func(seeds env.SeedSource[S]) (sim.Worker[PA], error)
	Schema          sim.Value
	Policy          Policy[PA]
	TrainSeeds      []S
	ValSeeds        []S
	TestSeeds       []S
	EpisodesPerIter int
}

// Seeds returns the initial states of phase; nil if the phase has none.
func (v *Vessel[S, PA]) Seeds(phase Phase) []S {
	switch phase {
	case PhaseTrain:
		return v.TrainSeeds
	case PhaseVal:
		return v.ValSeeds
	case PhaseTest:
		return v.TestSeeds
	default:
		return nil
	}
}

// SeedQueue builds the (not yet activated) seed queue of phase. Training
// cycles over a shuffled set without end; validation and testing visit
// every initial state once, in order.
func (v *Vessel[S, PA]) SeedQueue(phase Phase, info RunInfo) (*sim.WorkQueue[S], error) {
	seeds := v.Seeds(phase)
	if seeds == nil {
		return nil, fmt.Errorf("%s: %w", phase, ErrNoSeeds)
	}
	logrus.Infof("%s initial states collection size: %d", phase, len(seeds))
	seeds = randomSubset(phase, seeds, info)

	cfg := info.Queue
	cfg.Name = phase.String()
	cfg.Shuffle = phase == PhaseTrain
	if phase == PhaseTrain {
		cfg.Repeat = sim.Unbounded()
	} else {
		cfg.Repeat = sim.Repeat(1)
	}
	if cfg.Shuffle && info.RNG != nil {
		cfg.Rand = rand.New(rand.NewSource(info.RNG.ForSubsystem(sim.SubsystemQueue(cfg.Name)).Int63()))
	}
	return sim.NewWorkQueue[S](sim.SliceSource[S](seeds), cfg), nil
}

func randomSubset[S any](phase Phase, seeds []S, info RunInfo) []S {
	if info.FastDevRun <= 0 || info.FastDevRun >= len(seeds) {
		return seeds
	}
	var rng *rand.Rand
	if info.RNG != nil {
		rng = info.RNG.ForSubsystem(sim.SubsystemSubset)
	} else {
		rng = rand.New(rand.NewSource(0))
	}
	perm := rng.Perm(len(seeds))
	out := make([]S, info.FastDevRun)
	for i := range out {
		out[i] = seeds[perm[i]]
	}
	logrus.Infof("Fast running in development mode. Cut %s initial states from %d to %d.",
		phase, len(seeds), len(out))
	return out
}
