package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/env"
	"github.com/inference-sim/finite-rollout/sim/orderexec"
	"github.com/inference-sim/finite-rollout/sim/trace"
	"github.com/inference-sim/finite-rollout/sim/trainer"
	"github.com/sirupsen/logrus"
)

// Report is the JSON document printed by `rollout run`.
type Report struct {
	Session    string             `json:"session"`
	Strategy   string             `json:"strategy"`
	Policy     string             `json:"policy"`
	Workers    int                `json:"workers"`
	Episodes   int                `json:"episodes"`
	Steps      int                `json:"steps"`
	Exhausted  bool               `json:"exhausted"` // the order queue ran dry before any episode limit
	ReturnMean float64            `json:"return_mean"`
	ReturnStd  float64            `json:"return_std"`
	LengthMean float64            `json:"length_mean"`
	Metrics    map[string]float64 `json:"metrics"`
}

type actionSetup[PA any] struct {
	action env.ActionInterpreter[orderexec.State, orderexec.Order, PA, float64]
	policy trainer.Policy[PA]
}

func twapSetup() actionSetup[float64] {
	return actionSetup[float64]{
		action: orderexec.TwapRelativeActionInterpreter{},
		policy: trainer.ConstantPolicy[float64]{Action: 1},
	}
}

func randomSetup(cfg RunConfig, rng *sim.PartitionedRNG) actionSetup[int] {
	return actionSetup[int]{
		action: orderexec.CategoricalActionInterpreter{Values: cfg.Categories},
		policy: trainer.NewRandomPolicy(cfg.Categories, rng.ForSubsystem(sim.SubsystemPolicy)),
	}
}

// runRollout generates cfg.Orders orders and rolls the configured policy out
// over them until the queue is exhausted or cfg.Episodes episodes finished.
func runRollout(ctx context.Context, cfg RunConfig) (Report, error) {
	rng := sim.NewPartitionedRNG(sim.NewRunKey(cfg.Seed))
	orders := orderexec.GenerateOrders(rng.ForSubsystem(sim.SubsystemMarket), cfg.Orders, cfg.TicksPerStep)
	if cfg.Policy == policyRandom {
		return rollout(ctx, cfg, rng, orders, randomSetup(cfg, rng))
	}
	return rollout(ctx, cfg, rng, orders, twapSetup())
}

func rollout[PA any](ctx context.Context, cfg RunConfig, rng *sim.PartitionedRNG, orders []orderexec.Order, setup actionSetup[PA]) (Report, error) {
	qcfg := cfg.queueConfig()
	qcfg.Name = "run"
	qcfg.Repeat = cfg.repeatPolicy()
	qcfg.Shuffle = cfg.Shuffle
	if cfg.Shuffle {
		qcfg.Rand = rand.New(rand.NewSource(rng.ForSubsystem(sim.SubsystemQueue(qcfg.Name)).Int63()))
	}
	queue := sim.NewWorkQueue[orderexec.Order](sim.SliceSource[orderexec.Order](orders), qcfg)
	if err := queue.Activate(); err != nil {
		return Report{}, err
	}
	defer func() {
		queue.CloseEarly()
		if err := queue.Wait(ctx); err != nil {
			logrus.Warnf("Order queue producer did not stop: %v", err)
		}
	}()

	wc := cfg.workerConfig()
	workers := make([]sim.Worker[PA], cfg.Workers)
	for i := range workers {
		w, err := orderexec.NewWorker[PA](queue, wc, setup.action)
		if err != nil {
			return Report{}, fmt.Errorf("worker %d: %w", i, err)
		}
		workers[i] = w
	}
	strategy, err := sim.NewStrategy[PA](cfg.Strategy, wc.Schema())
	if err != nil {
		return Report{}, err
	}

	writers, csv := cfg.writers(expectedEpisodes(cfg))
	sup := sim.NewWorkerSupervisor(workers, strategy, writers...)
	collector := trainer.NewCollector(sup, setup.policy)
	var stats trainer.CollectStats
	err = sup.Collect(ctx, func(ctx context.Context) error {
		var err error
		stats, err = collector.Collect(ctx, cfg.Episodes)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	if csv != nil {
		if err := csv.Err(); err != nil {
			return Report{}, fmt.Errorf("episode csv: %w", err)
		}
	}

	s := stats.Summary
	return Report{
		Session:    sup.SessionID().String(),
		Strategy:   strategy.Name(),
		Policy:     cfg.Policy,
		Workers:    cfg.Workers,
		Episodes:   s.Episodes,
		Steps:      stats.Steps,
		Exhausted:  stats.Exhausted,
		ReturnMean: s.MeanReturn,
		ReturnStd:  s.StdReturn,
		LengthMean: s.MeanLength,
		Metrics:    s.Metrics,
	}, nil
}

// runTraining runs Fit and, when there are test orders, a final test pass.
// It returns the latest metrics of every phase.
func runTraining(ctx context.Context, cfg RunConfig) (map[string]float64, error) {
	rng := sim.NewPartitionedRNG(sim.NewRunKey(cfg.Seed))
	market := rng.ForSubsystem(sim.SubsystemMarket)
	tc := cfg.Train
	var sets [3][]orderexec.Order
	for i, n := range []int{tc.TrainOrders, tc.ValOrders, tc.TestOrders} {
		if n > 0 {
			sets[i] = orderexec.GenerateOrders(market, n, cfg.TicksPerStep)
		}
	}
	if cfg.Policy == policyRandom {
		return train(ctx, cfg, sets, randomSetup(cfg, rng))
	}
	return train(ctx, cfg, sets, twapSetup())
}

func train[PA any](ctx context.Context, cfg RunConfig, sets [3][]orderexec.Order, setup actionSetup[PA]) (map[string]float64, error) {
	wc := cfg.workerConfig()
	vessel := &trainer.Vessel[orderexec.Order, PA]{
		NewWorker: func(seeds env.SeedSource[orderexec.Order]) (sim.Worker[PA], error) {
			return orderexec.NewWorker[PA](seeds, wc, setup.action)
		},
		Schema:          wc.Schema(),
		Policy:          setup.policy,
		TrainSeeds:      sets[0],
		ValSeeds:        sets[1],
		TestSeeds:       sets[2],
		EpisodesPerIter: cfg.Train.EpisodesPerIter,
	}
	writers, csv := cfg.writers(0)
	t, err := trainer.New(trainer.Config{
		MaxIters:       cfg.Train.Iters,
		ValEveryNIters: cfg.Train.ValEvery,
		Workers:        cfg.Workers,
		Strategy:       cfg.Strategy,
		FastDevRun:     cfg.Train.FastDevRun,
		Seed:           cfg.Seed,
		Queue:          cfg.queueConfig(),
	}, vessel, writers...)
	if err != nil {
		return nil, err
	}
	if err := t.Fit(ctx); err != nil {
		return nil, err
	}
	if vessel.TestSeeds != nil {
		if _, err := t.Test(ctx); err != nil {
			return nil, err
		}
	}
	if csv != nil {
		if err := csv.Err(); err != nil {
			return nil, fmt.Errorf("episode csv: %w", err)
		}
	}
	return t.Metrics(), nil
}

// writers builds the console writer and, if configured, the CSV writer.
func (c RunConfig) writers(total int) ([]sim.LogWriter, *trace.CSVWriter) {
	writers := []sim.LogWriter{trace.NewConsoleWriter(c.LogEvery, total)}
	if c.CSV == "" {
		return writers, nil
	}
	csv := trace.NewCSVWriter(c.CSV)
	return append(writers, csv), csv
}

// expectedEpisodes is the episode count of a run pass, 0 when unknown.
func expectedEpisodes(cfg RunConfig) int {
	if cfg.Repeat < 0 {
		return cfg.Episodes
	}
	total := cfg.Orders * cfg.Repeat
	if cfg.Episodes > 0 {
		total = min(total, cfg.Episodes)
	}
	return total
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
