package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/inference-sim/finite-rollout/sim/orderexec"
	"gopkg.in/yaml.v3"
)

// RunConfig is everything `rollout run` and `rollout train` need. It can be
// loaded from YAML and overridden by flags.
type RunConfig struct {
	Seed     int64  `yaml:"seed"`
	Workers  int    `yaml:"workers"`
	Strategy string `yaml:"strategy"`

	Orders    int  `yaml:"orders"`
	Repeat    int  `yaml:"repeat"`   // passes over the orders; -1 cycles without end
	Episodes  int  `yaml:"episodes"` // stop after this many episodes; 0 runs until the orders run out
	Shuffle   bool `yaml:"shuffle"`
	QueueSize int  `yaml:"queue_size"`

	FirstPullTimeout time.Duration `yaml:"first_pull_timeout"`
	PullTimeout      time.Duration `yaml:"pull_timeout"`
	DrainPause       time.Duration `yaml:"drain_pause"`

	Policy       string  `yaml:"policy"`     // twap or random
	Categories   int     `yaml:"categories"` // action count of the random policy
	TicksPerStep int     `yaml:"ticks_per_step"`
	VolThreshold float64 `yaml:"vol_threshold"`
	Penalty      float64 `yaml:"penalty"`

	LogEvery int    `yaml:"log_every"`
	CSV      string `yaml:"csv"`

	Train TrainConfig `yaml:"train"`
}

// TrainConfig holds the `rollout train` section.
type TrainConfig struct {
	Iters           int `yaml:"iters"`
	ValEvery        int `yaml:"val_every"`
	EpisodesPerIter int `yaml:"episodes_per_iter"`
	FastDevRun      int `yaml:"fast_dev_run"`
	TrainOrders     int `yaml:"train_orders"`
	ValOrders       int `yaml:"val_orders"`
	TestOrders      int `yaml:"test_orders"`
}

const (
	policyTWAP   = "twap"
	policyRandom = "random"
)

var validPolicies = map[string]bool{policyTWAP: true, policyRandom: true}

// ErrInvalidRunConfig is wrapped by every Validate failure.
var ErrInvalidRunConfig = errors.New("invalid run config")

// DefaultRunConfig returns the configuration used when neither a file nor a
// flag says otherwise.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Seed:             42,
		Workers:          4,
		Strategy:         sim.StrategyParallel,
		Orders:           100,
		Repeat:           1,
		QueueSize:        0,
		FirstPullTimeout: 5 * time.Second,
		PullTimeout:      500 * time.Millisecond,
		DrainPause:       100 * time.Millisecond,
		Policy:           policyTWAP,
		Categories:       4,
		TicksPerStep:     30,
		Penalty:          100,
		LogEvery:         20,
		Train: TrainConfig{
			Iters:           5,
			ValEvery:        1,
			EpisodesPerIter: 20,
			TrainOrders:     200,
			ValOrders:       40,
			TestOrders:      40,
		},
	}
}

// LoadRunConfig decodes the YAML file at path over base. Unknown keys are errors.
func LoadRunConfig(path string, base RunConfig) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read run config: %w", err)
	}
	cfg := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parse run config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c RunConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(sim.ValidStrategies[c.Strategy], "unknown strategy %q, want one of %v", c.Strategy, sim.StrategyNames())
	check(validPolicies[c.Policy], "unknown policy %q", c.Policy)
	check(c.Orders > 0, "orders must be positive, got %d", c.Orders)
	check(c.Repeat == -1 || c.Repeat > 0, "repeat must be positive or -1, got %d", c.Repeat)
	check(c.Repeat != -1 || c.Episodes > 0, "an endless repeat needs an episode limit")
	check(c.Episodes >= 0, "episodes must not be negative, got %d", c.Episodes)
	check(c.QueueSize >= 0, "queue size must not be negative, got %d", c.QueueSize)
	check(c.Policy != policyRandom || c.Categories > 0, "random policy needs positive categories, got %d", c.Categories)
	check(c.TicksPerStep > 0 && c.TicksPerStep <= orderexec.TicksPerDay,
		"ticks per step must be in [1, %d], got %d", orderexec.TicksPerDay, c.TicksPerStep)
	check(c.VolThreshold >= 0, "volume threshold must not be negative, got %v", c.VolThreshold)
	check(c.FirstPullTimeout >= 0 && c.PullTimeout >= 0 && c.DrainPause >= 0, "timeouts must not be negative")
	check(c.Train.EpisodesPerIter > 0, "train episodes per iteration must be positive, got %d", c.Train.EpisodesPerIter)
	check(c.Train.Iters >= 0 && c.Train.ValEvery >= 0 && c.Train.FastDevRun >= 0, "train counters must not be negative")
	check(c.Train.TrainOrders >= 0 && c.Train.ValOrders >= 0 && c.Train.TestOrders >= 0, "train order counts must not be negative")
	check(c.Train.Iters == 0 || c.Train.TrainOrders > 0, "%d train iterations need train orders", c.Train.Iters)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRunConfig, errors.Join(errs...))
	}
	return nil
}

// queueConfig returns the shared queue timing and size template.
func (c RunConfig) queueConfig() sim.QueueConfig {
	return sim.QueueConfig{
		MaxSize:          c.QueueSize,
		FirstPullTimeout: c.FirstPullTimeout,
		PullTimeout:      c.PullTimeout,
		DrainPause:       c.DrainPause,
	}
}

func (c RunConfig) workerConfig() orderexec.WorkerConfig {
	return orderexec.WorkerConfig{
		Sim:     orderexec.Config{TicksPerStep: c.TicksPerStep, VolThreshold: c.VolThreshold},
		Penalty: c.Penalty,
	}
}

// repeatPolicy converts Repeat to a queue policy.
func (c RunConfig) repeatPolicy() sim.RepeatPolicy {
	if c.Repeat < 0 {
		return sim.Unbounded()
	}
	return sim.Repeat(c.Repeat)
}
