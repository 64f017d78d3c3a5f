// Package env adapts a single-episode simulator into a sim.Worker.
//
// A Wrapper pulls one seed per Reset from a finite SeedSource (usually a
// sim.WorkQueue), builds a fresh simulator from it, and translates between
// the simulator's state/action types and the observation/policy-action types
// the supervisor and policy see. When the seed source is exhausted, Reset
// returns the sentinel observation so the supervisor can retire the slot.
package env

import (
	"context"
	"errors"
	"fmt"

	"github.com/inference-sim/finite-rollout/sim"
)

// ErrNotReset is returned by Step before the first Reset, after the seed
// source ran dry, or once the current episode is done.
var ErrNotReset = errors.New("env: step without an active episode")

// SeedSource hands out one initial state per call. *sim.WorkQueue satisfies it.
type SeedSource[S any] interface {
	Pull(ctx context.Context) (S, error)
}

// Simulator runs one episode from one seed.
type Simulator[St, A any] interface {
	Step(action A) error
	State() St
	Done() bool
}

// MetricsReporter is implemented by simulators that publish end-of-episode
// metrics. They are merged into the Info of the final transition.
type MetricsReporter interface {
	Metrics() map[string]float64
}

// Status is the wrapper's running record of the current episode. It is
// passed explicitly to interpreters and rewards, which must treat it as
// read-only.
type Status[S, PA any] struct {
	CurStep       int
	Done          bool
	InitialState  S
	ObsHistory    []sim.Value
	ActionHistory []PA
	RewardHistory []float64
}

// StateInterpreter turns simulator state into an observation. Schema returns
// one real observation sample, used to build the sentinel.
type StateInterpreter[St, S, PA any] interface {
	Schema() sim.Value
	Interpret(state St, status *Status[S, PA]) sim.Value
}

// ActionInterpreter turns a policy action into a simulator action.
type ActionInterpreter[St, S, PA, A any] interface {
	Interpret(state St, action PA, status *Status[S, PA]) (A, error)
}

// Reward scores the state reached by the last step.
type Reward[St, S, PA any] interface {
	Reward(state St, status *Status[S, PA]) float64
}

// Config wires a Wrapper's collaborators. All fields are required.
type Config[S, St, A, PA any] struct {
	Seeds        SeedSource[S]
	NewSimulator func(seed S) (Simulator[St, A], error)
	State        StateInterpreter[St, S, PA]
	Action       ActionInterpreter[St, S, PA, A]
	Reward       Reward[St, S, PA]
}

// Wrapper implements sim.Worker[PA] over a seed source and simulator factory.
// A Wrapper serves one supervisor slot and is not safe for concurrent use.
type Wrapper[S, St, A, PA any] struct {
	cfg      Config[S, St, A, PA]
	sentinel sim.Value
	sim      Simulator[St, A]
	status   Status[S, PA]
}

var errMissingCollaborator = errors.New("env: incomplete config")

// New validates cfg and derives the sentinel from the state interpreter's schema.
func New[S, St, A, PA any](cfg Config[S, St, A, PA]) (*Wrapper[S, St, A, PA], error) {
	switch {
	case cfg.Seeds == nil:
		return nil, fmt.Errorf("seed source: %w", errMissingCollaborator)
	case cfg.NewSimulator == nil:
		return nil, fmt.Errorf("simulator factory: %w", errMissingCollaborator)
	case cfg.State == nil:
		return nil, fmt.Errorf("state interpreter: %w", errMissingCollaborator)
	case cfg.Action == nil:
		return nil, fmt.Errorf("action interpreter: %w", errMissingCollaborator)
	case cfg.Reward == nil:
		return nil, fmt.Errorf("reward: %w", errMissingCollaborator)
	}
	sentinel, err := sim.MakeSentinel(cfg.State.Schema())
	if err != nil {
		return nil, fmt.Errorf("observation schema: %w", err)
	}
	return &Wrapper[S, St, A, PA]{cfg: cfg, sentinel: sentinel}, nil
}

// Reset starts a new episode from the next seed. Once the seed source is
// exhausted it returns the sentinel observation and a nil error.
func (w *Wrapper[S, St, A, PA]) Reset(ctx context.Context) (sim.Value, error) {
	seed, err := w.cfg.Seeds.Pull(ctx)
	if errors.Is(err, sim.ErrExhausted) {
		w.sim = nil
		return w.sentinel.Clone(), nil
	}
	if err != nil {
		return sim.Value{}, fmt.Errorf("pull seed: %w", err)
	}
	simulator, err := w.cfg.NewSimulator(seed)
	if err != nil {
		w.sim = nil
		return sim.Value{}, fmt.Errorf("build simulator: %w", err)
	}
	w.sim = simulator
	w.status = Status[S, PA]{InitialState: seed}

	obs := w.cfg.State.Interpret(simulator.State(), &w.status)
	w.status.ObsHistory = append(w.status.ObsHistory, obs)
	return obs, nil
}

// Step applies one policy action to the current episode.
func (w *Wrapper[S, St, A, PA]) Step(ctx context.Context, action PA) (sim.Transition, error) {
	if w.sim == nil {
		return sim.Transition{}, ErrNotReset
	}
	if w.status.Done {
		return sim.Transition{}, fmt.Errorf("episode already done after %d steps: %w", w.status.CurStep, ErrNotReset)
	}
	if err := ctx.Err(); err != nil {
		return sim.Transition{}, err
	}

	simAction, err := w.cfg.Action.Interpret(w.sim.State(), action, &w.status)
	if err != nil {
		return sim.Transition{}, fmt.Errorf("interpret action: %w", err)
	}
	w.status.ActionHistory = append(w.status.ActionHistory, action)
	if err := w.sim.Step(simAction); err != nil {
		return sim.Transition{}, fmt.Errorf("simulator step %d: %w", w.status.CurStep, err)
	}

	w.status.CurStep++
	w.status.Done = w.sim.Done()
	state := w.sim.State()
	obs := w.cfg.State.Interpret(state, &w.status)
	reward := w.cfg.Reward.Reward(state, &w.status)
	w.status.ObsHistory = append(w.status.ObsHistory, obs)
	w.status.RewardHistory = append(w.status.RewardHistory, reward)

	info := sim.Info{"cur_step": float64(w.status.CurStep)}
	if w.status.Done {
		if mr, ok := w.sim.(MetricsReporter); ok {
			for k, v := range mr.Metrics() {
				info[k] = v
			}
		}
	}
	return sim.Transition{Obs: obs, Reward: reward, Done: w.status.Done, Info: info}, nil
}

// Status returns the current episode's status. The returned value shares its
// history slices with the wrapper.
func (w *Wrapper[S, St, A, PA]) Status() Status[S, PA] {
	return w.status
}
