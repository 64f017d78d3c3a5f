package orderexec

import (
	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/env"
)

// WorkerConfig assembles the standard SAOE worker: current-step observations
// and the PA-penalty reward.
type WorkerConfig struct {
	Sim      Config
	MaxSteps int     // observation step clamp; 0 derives it from a full day
	Penalty  float64 // PAPenaltyReward penalty
}

func (c WorkerConfig) maxSteps() int {
	if c.MaxSteps > 0 {
		return c.MaxSteps
	}
	tps := c.Sim.TicksPerStep
	if tps <= 0 {
		tps = 30
	}
	return (TicksPerDay + tps - 1) / tps
}

// Schema returns one real observation sample of the standard worker.
func (c WorkerConfig) Schema() sim.Value {
	return CurrentStepStateInterpreter[float64]{MaxSteps: c.maxSteps()}.Schema()
}

// NewWorker builds an env wrapper pulling orders from seeds and interpreting
// policy actions with action.
func NewWorker[PA any](seeds env.SeedSource[Order], cfg WorkerConfig, action env.ActionInterpreter[State, Order, PA, float64]) (sim.Worker[PA], error) {
	w, err := env.New(env.Config[Order, State, float64, PA]{
		Seeds:        seeds,
		NewSimulator: Factory(cfg.Sim),
		State:        CurrentStepStateInterpreter[PA]{MaxSteps: cfg.maxSteps()},
		Action:       action,
		Reward:       PAPenaltyReward[PA]{Penalty: cfg.Penalty},
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}
