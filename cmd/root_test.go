package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.Orders = 6
	cfg.Workers = 3
	cfg.FirstPullTimeout = time.Second
	cfg.PullTimeout = 10 * time.Millisecond
	cfg.DrainPause = time.Millisecond
	cfg.LogEvery = 0
	return cfg
}

func TestRunRollout_EveryStrategyFillsEveryOrder(t *testing.T) {
	var means []float64
	for _, strategy := range sim.StrategyNames() {
		t.Run(strategy, func(t *testing.T) {
			// GIVEN 6 orders behind 3 workers running the TWAP policy
			cfg := fastConfig()
			cfg.Strategy = strategy

			// WHEN rolling out until the orders run out
			report, err := runRollout(context.Background(), cfg)

			// THEN every order ran once to a full fill
			require.NoError(t, err)
			assert.Equal(t, 6, report.Episodes)
			assert.True(t, report.Exhausted)
			assert.Equal(t, strategy, report.Strategy)
			assert.NotEmpty(t, report.Session)
			assert.InDelta(t, 1, report.Metrics["ffr"], 1e-9)
			means = append(means, report.ReturnMean)
		})
	}
	// the strategy does not change what the workers compute
	for _, m := range means[1:] {
		assert.InDelta(t, means[0], m, 1e-9)
	}
}

func TestRunRollout_EpisodeLimitStopsEndlessQueue(t *testing.T) {
	// GIVEN an endless queue and a 5-episode limit
	cfg := fastConfig()
	cfg.Repeat = -1
	cfg.Episodes = 5
	cfg.Shuffle = true

	// WHEN rolling out
	report, err := runRollout(context.Background(), cfg)

	// THEN the limit, not exhaustion, ended the pass
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Episodes, 5)
	assert.False(t, report.Exhausted)
}

func TestRunRollout_RandomPolicyWritesCSV(t *testing.T) {
	// GIVEN the random categorical policy and a CSV path
	cfg := fastConfig()
	cfg.Policy = policyRandom
	cfg.Strategy = sim.StrategySerial
	cfg.CSV = filepath.Join(t.TempDir(), "out", "episodes.csv")

	report, err := runRollout(context.Background(), cfg)
	require.NoError(t, err)

	// THEN the CSV holds a header and one row per episode
	f, err := os.Open(cfg.CSV)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, report.Episodes+1)
	assert.Equal(t, []string{"pass", "slot", "episode", "return", "length"}, rows[0][:5])
}

func TestRunRollout_SameSeedSameReport(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy = policyRandom
	cfg.Strategy = sim.StrategySerial

	a, err := runRollout(context.Background(), cfg)
	require.NoError(t, err)
	b, err := runRollout(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, a.ReturnMean, b.ReturnMean)
	assert.Equal(t, a.Steps, b.Steps)
	assert.NotEqual(t, a.Session, b.Session, "every run is its own session")
}

func TestRunTraining_ReportsEveryPhase(t *testing.T) {
	// GIVEN two training iterations with validation and a test set
	cfg := fastConfig()
	cfg.Strategy = sim.StrategyParallel
	cfg.Train = TrainConfig{Iters: 2, ValEvery: 1, EpisodesPerIter: 4, TrainOrders: 5, ValOrders: 3, TestOrders: 2}

	metrics, err := runTraining(context.Background(), cfg)

	// THEN train, val and test metrics are all present
	require.NoError(t, err)
	assert.GreaterOrEqual(t, metrics["train/episodes"], 4.0)
	assert.Equal(t, 3.0, metrics["val/episodes"])
	assert.Equal(t, 2.0, metrics["test/episodes"])
	assert.InDelta(t, 1, metrics["test/ffr"], 1e-9)
}

func TestRunCommand_FlagsOverrideConfigFile(t *testing.T) {
	// GIVEN a config file and a --workers flag that disagrees with it
	path := writeConfig(t, `
orders: 4
workers: 3
strategy: serial
first_pull_timeout: 1s
pull_timeout: 10ms
drain_pause: 1ms
log_every: 0
`)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--config", path, "--workers", "2", "--log", "error"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	// WHEN the run command executes
	require.NoError(t, rootCmd.Execute())

	// THEN the flag won for workers and the file supplied the rest
	var report Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 2, report.Workers)
	assert.Equal(t, 4, report.Episodes)
	assert.Equal(t, sim.StrategySerial, report.Strategy)
}
