package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/trace"
)

// CollectStats describes one Collect call.
type CollectStats struct {
	Steps     int // alive-slot steps taken
	Episodes  []trace.EpisodeRecord
	Summary   trace.EpisodeSummary
	Exhausted bool // the supervisor ran out of work
}

// Collector drives a supervisor with a policy, resetting only the slots
// whose episode finished.
type Collector[PA any] struct {
	sup    *sim.WorkerSupervisor[PA]
	policy Policy[PA]
}

// NewCollector creates a collector over sup.
func NewCollector[PA any](sup *sim.WorkerSupervisor[PA], policy Policy[PA]) *Collector[PA] {
	return &Collector[PA]{sup: sup, policy: policy}
}

// Collect runs until n episodes have finished or the supervisor is exhausted;
// n <= 0 means until exhaustion. Stats are valid even when an error is
// returned, including sim.ErrExhausted, which a surrounding collector guard
// turns into a normal end of pass.
func (c *Collector[PA]) Collect(ctx context.Context, n int) (stats CollectStats, err error) {
	defer func() {
		stats.Summary = trace.Summarize(stats.Episodes)
		stats.Exhausted = errors.Is(err, sim.ErrExhausted)
	}()

	obs, err := c.sup.Reset(ctx, nil)
	if err != nil {
		return stats, err
	}
	slots := c.sup.NumSlots()
	returns := make([]float64, slots)
	lengths := make([]int, slots)

	for n <= 0 || len(stats.Episodes) < n {
		actions, err := c.policy.Act(ctx, obs)
		if err != nil {
			return stats, fmt.Errorf("policy: %w", err)
		}
		trs, err := c.sup.Step(ctx, actions, nil)
		if err != nil {
			return stats, err
		}

		var done []int
		for i, tr := range trs {
			obs[i] = tr.Obs
			if c.sup.SlotState(i) != sim.SlotAlive {
				continue
			}
			stats.Steps++
			returns[i] += tr.Reward
			lengths[i]++
			if !tr.Done {
				continue
			}
			stats.Episodes = append(stats.Episodes, trace.EpisodeRecord{
				Slot:    i,
				Index:   len(stats.Episodes),
				Return:  returns[i],
				Length:  lengths[i],
				Metrics: tr.Info.Clone(),
			})
			done = append(done, i)
		}
		if len(done) == 0 || (n > 0 && len(stats.Episodes) >= n) {
			continue
		}

		fresh, err := c.sup.Reset(ctx, done)
		if err != nil {
			return stats, err
		}
		for k, i := range done {
			obs[i] = fresh[k]
			returns[i], lengths[i] = 0, 0
		}
	}
	return stats, nil
}
