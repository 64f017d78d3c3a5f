package trainer

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/sirupsen/logrus"
)

// Config holds the runtime side of training.
type Config struct {
	MaxIters       int    // training iterations run by Fit
	ValEveryNIters int    // validate after every this many iterations; 0 disables
	Workers        int    // supervisor slots per pass
	Strategy       string // one of sim.StrategyNames()
	FastDevRun     int    // > 0 cuts every seed set to this many states
	Seed           int64
	Queue          sim.QueueConfig
}

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("trainer: invalid config")

// Trainer runs collection passes for a vessel. Each pass gets a fresh seed
// queue and supervisor and always runs inside a collector guard.
type Trainer[S, PA any] struct {
	cfg     Config
	vessel  *Vessel[S, PA]
	rng     *sim.PartitionedRNG
	writers []sim.LogWriter
	metrics map[string]float64
	iter    int
}

// New validates cfg against vessel. Log writers receive every pass.
func New[S, PA any](cfg Config, vessel *Vessel[S, PA], writers ...sim.LogWriter) (*Trainer[S, PA], error) {
	switch {
	case vessel == nil || vessel.NewWorker == nil || vessel.Policy == nil:
		return nil, fmt.Errorf("vessel needs a worker factory and a policy: %w", ErrInvalidConfig)
	case cfg.Workers <= 0:
		return nil, fmt.Errorf("workers %d: %w", cfg.Workers, ErrInvalidConfig)
	case !sim.ValidStrategies[cfg.Strategy]:
		return nil, fmt.Errorf("strategy %q, want one of %v: %w", cfg.Strategy, sim.StrategyNames(), ErrInvalidConfig)
	case vessel.TrainSeeds != nil && vessel.EpisodesPerIter <= 0:
		return nil, fmt.Errorf("training cycles without end and needs episodes per iteration: %w", ErrInvalidConfig)
	}
	return &Trainer[S, PA]{
		cfg:     cfg,
		vessel:  vessel,
		rng:     sim.NewPartitionedRNG(sim.NewRunKey(cfg.Seed)),
		writers: writers,
		metrics: make(map[string]float64),
	}, nil
}

// Fit runs MaxIters training iterations, validating every ValEveryNIters.
func (t *Trainer[S, PA]) Fit(ctx context.Context) error {
	for t.iter < t.cfg.MaxIters {
		stats, err := t.pass(ctx, PhaseTrain, t.vessel.EpisodesPerIter)
		if err != nil {
			return fmt.Errorf("train iteration %d: %w", t.iter, err)
		}
		t.iter++
		t.record("train/", stats)
		logrus.WithField("iter", t.iter).Infof("Train: %d episodes, return %.4f",
			stats.Summary.Episodes, stats.Summary.MeanReturn)

		if t.cfg.ValEveryNIters > 0 && t.iter%t.cfg.ValEveryNIters == 0 && t.vessel.ValSeeds != nil {
			if _, err := t.Validate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate runs one pass over every validation state.
func (t *Trainer[S, PA]) Validate(ctx context.Context) (map[string]float64, error) {
	return t.evaluate(ctx, PhaseVal, "val/")
}

// Test runs one pass over every test state.
func (t *Trainer[S, PA]) Test(ctx context.Context) (map[string]float64, error) {
	return t.evaluate(ctx, PhaseTest, "test/")
}

func (t *Trainer[S, PA]) evaluate(ctx context.Context, phase Phase, prefix string) (map[string]float64, error) {
	stats, err := t.pass(ctx, phase, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", phase, err)
	}
	out := t.record(prefix, stats)
	logrus.Infof("%s: %d episodes, return %.4f", phase, stats.Summary.Episodes, stats.Summary.MeanReturn)
	return out, nil
}

// Metrics returns a copy of the latest metrics of every phase.
func (t *Trainer[S, PA]) Metrics() map[string]float64 {
	return maps.Clone(t.metrics)
}

// Iteration returns the number of completed training iterations.
func (t *Trainer[S, PA]) Iteration() int {
	return t.iter
}

func (t *Trainer[S, PA]) record(prefix string, stats CollectStats) map[string]float64 {
	s := stats.Summary
	out := map[string]float64{
		prefix + "episodes":    float64(s.Episodes),
		prefix + "steps":       float64(stats.Steps),
		prefix + "return_mean": s.MeanReturn,
		prefix + "return_std":  s.StdReturn,
		prefix + "length_mean": s.MeanLength,
	}
	for k, v := range s.Metrics {
		out[prefix+k] = v
	}
	maps.Copy(t.metrics, out)
	return out
}

// pass runs one collection pass of up to n episodes (n <= 0: until the seeds
// run out).
func (t *Trainer[S, PA]) pass(ctx context.Context, phase Phase, n int) (CollectStats, error) {
	queue, err := t.vessel.SeedQueue(phase, RunInfo{FastDevRun: t.cfg.FastDevRun, RNG: t.rng, Queue: t.cfg.Queue})
	if err != nil {
		return CollectStats{}, err
	}
	if err := queue.Activate(); err != nil {
		return CollectStats{}, err
	}
	defer func() {
		queue.CloseEarly()
		if err := queue.Wait(ctx); err != nil {
			logrus.Warnf("Seed queue %s producer did not stop: %v", phase, err)
		}
	}()

	workers := make([]sim.Worker[PA], t.cfg.Workers)
	for i := range workers {
		w, err := t.vessel.NewWorker(queue)
		if err != nil {
			return CollectStats{}, fmt.Errorf("worker %d: %w", i, err)
		}
		workers[i] = w
	}
	strategy, err := sim.NewStrategy[PA](t.cfg.Strategy, t.vessel.Schema)
	if err != nil {
		return CollectStats{}, err
	}
	sup := sim.NewWorkerSupervisor(workers, strategy, t.writers...)
	logrus.WithField("session", sup.SessionID().String()).
		Debugf("Starting %s pass with %d %s workers", phase, len(workers), strategy.Name())

	collector := NewCollector(sup, t.vessel.Policy)
	var stats CollectStats
	err = sup.Collect(ctx, func(ctx context.Context) error {
		var err error
		stats, err = collector.Collect(ctx, n)
		return err
	})
	return stats, err
}
