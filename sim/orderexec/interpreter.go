package orderexec

import (
	"errors"
	"fmt"
	"math"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/env"
)

// ErrInvalidAction is returned for policy actions outside an interpreter's range.
var ErrInvalidAction = errors.New("orderexec: invalid policy action")

// CurrentStepStateInterpreter observes only the current step: order side,
// step counter, target amount and remaining position.
type CurrentStepStateInterpreter[PA any] struct {
	MaxSteps int
}

func (c CurrentStepStateInterpreter[PA]) Schema() sim.Value {
	return c.observe(false, 0, 0, 0)
}

func (c CurrentStepStateInterpreter[PA]) Interpret(state State, status *env.Status[Order, PA]) sim.Value {
	step := status.CurStep
	if c.MaxSteps > 0 {
		step = min(step, c.MaxSteps-1)
	}
	return c.observe(state.Order.Direction == Buy, step, state.Order.Amount, state.Position)
}

func (c CurrentStepStateInterpreter[PA]) observe(acquiring bool, step int, target, position float64) sim.Value {
	var acq int64
	if acquiring {
		acq = 1
	}
	return sim.Map(map[string]sim.Value{
		"acquiring": sim.IntIn(sim.DomainInt8, acq),
		"cur_step":  sim.IntIn(sim.DomainInt32, int64(step)),
		"num_step":  sim.IntIn(sim.DomainInt32, int64(c.MaxSteps)),
		"target":    sim.Float(target),
		"position":  sim.Float(position),
	})
}

// CategoricalActionInterpreter maps action k in [0, Values] to k/Values of the
// order amount, capped by the remaining position.
type CategoricalActionInterpreter struct {
	Values int
}

func (c CategoricalActionInterpreter) Interpret(state State, action int, _ *env.Status[Order, int]) (float64, error) {
	if action < 0 || action > c.Values {
		return 0, fmt.Errorf("action %d outside [0, %d]: %w", action, c.Values, ErrInvalidAction)
	}
	return math.Min(state.Position, state.Order.Amount*float64(action)/float64(c.Values)), nil
}

// TwapRelativeActionInterpreter scales the TWAP amount for the rest of the
// order: action 1 trades the remaining position evenly over the remaining
// steps.
type TwapRelativeActionInterpreter struct{}

func (TwapRelativeActionInterpreter) Interpret(state State, action float64, status *env.Status[Order, float64]) (float64, error) {
	if math.IsNaN(action) || action < 0 {
		return 0, fmt.Errorf("action %v: %w", action, ErrInvalidAction)
	}
	ticks := state.Order.End - state.Order.Start
	estimated := (ticks + state.TicksPerStep - 1) / state.TicksPerStep
	left := estimated - status.CurStep
	if left <= 0 {
		return state.Position, nil
	}
	twap := state.Position / float64(left)
	return math.Min(state.Position, twap*action), nil
}

// PAPenaltyReward rewards the price advantage of the last step, weighted by
// its share of the order, and penalizes concentrated execution quadratically.
type PAPenaltyReward[PA any] struct {
	Penalty float64
}

func (r PAPenaltyReward[PA]) Reward(state State, _ *env.Status[Order, PA]) float64 {
	if len(state.HistorySteps) == 0 {
		return 0
	}
	whole := state.Order.Amount
	last := state.HistorySteps[len(state.HistorySteps)-1]
	pa := last.PA * last.Amount / whole

	var penalty float64
	for _, rec := range state.HistoryExec {
		if rec.Tick >= last.Tick {
			share := rec.Amount / whole
			penalty += share * share
		}
	}
	return pa - r.Penalty*penalty
}
