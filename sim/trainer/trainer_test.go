package trainer

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/env"
	"github.com/inference-sim/finite-rollout/sim/orderexec"
	"github.com/inference-sim/finite-rollout/sim/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastQueue() sim.QueueConfig {
	return sim.QueueConfig{
		MaxSize:          4,
		FirstPullTimeout: 100 * time.Millisecond,
		PullTimeout:      10 * time.Millisecond,
		DrainRetries:     3,
		DrainPause:       time.Millisecond,
	}
}

func saoeVessel(train, val, test []orderexec.Order) *Vessel[orderexec.Order, float64] {
	wc := orderexec.WorkerConfig{Sim: orderexec.Config{TicksPerStep: 30}, Penalty: 100}
	return &Vessel[orderexec.Order, float64]{
		NewWorker: func(seeds env.SeedSource[orderexec.Order]) (sim.Worker[float64], error) {
			return orderexec.NewWorker[float64](seeds, wc, orderexec.TwapRelativeActionInterpreter{})
		},
		Schema:          wc.Schema(),
		Policy:          ConstantPolicy[float64]{Action: 1},
		TrainSeeds:      train,
		ValSeeds:        val,
		TestSeeds:       test,
		EpisodesPerIter: 3,
	}
}

func orders(seed int64, n int) []orderexec.Order {
	return orderexec.GenerateOrders(rand.New(rand.NewSource(seed)), n, 60)
}

func TestTrainer_TestVisitsEveryOrderOnce(t *testing.T) {
	for _, strategy := range sim.StrategyNames() {
		t.Run(strategy, func(t *testing.T) {
			// GIVEN 5 test orders and 2 workers
			rec := trace.NewRecorder()
			tr, err := New(Config{Workers: 2, Strategy: strategy, Queue: fastQueue()},
				saoeVessel(nil, nil, orders(1, 5)), rec)
			require.NoError(t, err)

			// WHEN the test pass runs
			m, err := tr.Test(context.Background())

			// THEN each order finished once and was fully filled
			require.NoError(t, err)
			assert.Equal(t, 5.0, m["test/episodes"])
			assert.InDelta(t, 1, m["test/ffr"], 1e-9)
			assert.Equal(t, 5, rec.Len())
			assert.Equal(t, 1, rec.Pass(), "the pass-complete notification fired once")
			assert.Equal(t, m, filterPrefix(tr.Metrics(), "test/"))
		})
	}
}

func filterPrefix(m map[string]float64, prefix string) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out
}

func TestTrainer_FitRunsIterationsAndValidates(t *testing.T) {
	// GIVEN a vessel with train and val orders
	tr, err := New(Config{MaxIters: 2, ValEveryNIters: 1, Workers: 2, Strategy: sim.StrategySerial, Seed: 3, Queue: fastQueue()},
		saoeVessel(orders(2, 4), orders(3, 2), nil))
	require.NoError(t, err)

	// WHEN fitting
	require.NoError(t, tr.Fit(context.Background()))

	// THEN train collected the requested episodes per iteration and val ran over every order
	m := tr.Metrics()
	assert.Equal(t, 2, tr.Iteration())
	assert.GreaterOrEqual(t, m["train/episodes"], 3.0)
	assert.Equal(t, 2.0, m["val/episodes"])

	_, err = tr.Test(context.Background())
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestTrainer_FastDevRunCutsSeeds(t *testing.T) {
	tr, err := New(Config{Workers: 3, Strategy: sim.StrategyParallel, FastDevRun: 2, Queue: fastQueue()},
		saoeVessel(nil, orders(4, 10), nil))
	require.NoError(t, err)

	m, err := tr.Validate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2.0, m["val/episodes"])
}

func TestNew_InvalidConfig(t *testing.T) {
	v := saoeVessel(orders(1, 2), nil, nil)
	tests := []struct {
		name   string
		cfg    Config
		vessel *Vessel[orderexec.Order, float64]
	}{
		{name: "no workers", cfg: Config{Workers: 0, Strategy: sim.StrategySerial}, vessel: v},
		{name: "unknown strategy", cfg: Config{Workers: 1, Strategy: "subproc"}, vessel: v},
		{name: "nil vessel", cfg: Config{Workers: 1, Strategy: sim.StrategySerial}},
		{name: "endless training", cfg: Config{Workers: 1, Strategy: sim.StrategySerial},
			vessel: &Vessel[orderexec.Order, float64]{NewWorker: v.NewWorker, Policy: v.Policy, TrainSeeds: v.TrainSeeds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.vessel)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestVessel_SeedQueue(t *testing.T) {
	v := saoeVessel(orders(5, 6), orders(6, 3), nil)
	rng := sim.NewPartitionedRNG(sim.NewRunKey(9))

	// validation visits every order once, in order
	q, err := v.SeedQueue(PhaseVal, RunInfo{RNG: rng, Queue: fastQueue()})
	require.NoError(t, err)
	require.NoError(t, q.Activate())
	var got []string
	for o := range q.All(context.Background()) {
		got = append(got, o.ID)
	}
	assert.Equal(t, []string{"order_0", "order_1", "order_2"}, got)

	// training never runs dry
	q, err = v.SeedQueue(PhaseTrain, RunInfo{RNG: rng, Queue: fastQueue()})
	require.NoError(t, err)
	require.NoError(t, q.Activate())
	for i := 0; i < 20; i++ {
		_, err := q.Pull(context.Background())
		require.NoError(t, err)
	}
	q.CloseEarly()

	_, err = v.SeedQueue(PhaseTest, RunInfo{})
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestRandomSubset_Deterministic(t *testing.T) {
	seeds := []int{0, 1, 2, 3, 4, 5, 6, 7}
	a := randomSubset(PhaseVal, seeds, RunInfo{FastDevRun: 3, RNG: sim.NewPartitionedRNG(1)})
	b := randomSubset(PhaseVal, seeds, RunInfo{FastDevRun: 3, RNG: sim.NewPartitionedRNG(1)})
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.Equal(t, seeds, randomSubset(PhaseVal, seeds, RunInfo{}))
	assert.Equal(t, seeds, randomSubset(PhaseVal, seeds, RunInfo{FastDevRun: 20}))
}

func TestPolicies(t *testing.T) {
	obs := make([]sim.Value, 4)
	acts, err := ConstantPolicy[float64]{Action: 0.5}.Act(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, acts)

	p := NewRandomPolicy(3, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		cats, err := p.Act(context.Background(), obs)
		require.NoError(t, err)
		for _, c := range cats {
			assert.GreaterOrEqual(t, c, 0)
			assert.LessOrEqual(t, c, 3)
		}
	}
}

func TestCollector_CategoricalPolicyRunsToExhaustion(t *testing.T) {
	ctx := context.Background()
	// GIVEN 3 orders behind 2 categorical workers with a random policy
	q := sim.NewWorkQueue[orderexec.Order](sim.SliceSource[orderexec.Order](orders(7, 3)), fastQueue())
	require.NoError(t, q.Activate())
	wc := orderexec.WorkerConfig{Sim: orderexec.Config{TicksPerStep: 30}}
	workers := make([]sim.Worker[int], 2)
	for i := range workers {
		w, err := orderexec.NewWorker[int](q, wc, orderexec.CategoricalActionInterpreter{Values: 4})
		require.NoError(t, err)
		workers[i] = w
	}
	sup := sim.NewWorkerSupervisor(workers, sim.SerialStrategy[int]{})
	col := NewCollector[int](sup, NewRandomPolicy(4, rand.New(rand.NewSource(2))))

	// WHEN collecting without an episode limit
	var stats CollectStats
	err := sup.Collect(ctx, func(ctx context.Context) error {
		var err error
		stats, err = col.Collect(ctx, 0)
		return err
	})

	// THEN every order finished and exhaustion ended the pass
	require.NoError(t, err)
	assert.True(t, stats.Exhausted)
	assert.Len(t, stats.Episodes, 3)
	assert.Equal(t, 3, stats.Summary.Episodes)
	assert.InDelta(t, 1, stats.Summary.Metrics["ffr"], 1e-9, "the order end forces the remainder through")
	assert.True(t, sup.Terminal())
}
