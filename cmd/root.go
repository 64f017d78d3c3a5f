package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath string    // YAML run config; flags set explicitly override it
	logLevel   string    // Log verbosity level
	flagCfg    RunConfig // Flag-bound configuration, starts from DefaultRunConfig
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Finite vectorized rollouts over order-execution workers",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd evaluates a fixed policy over a finite set of synthetic orders
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Roll a policy out over a finite order queue and print a JSON report",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Starting rollout over %d orders with %d %s workers, policy=%s",
			cfg.Orders, cfg.Workers, cfg.Strategy, cfg.Policy)

		report, err := runRollout(cmd.Context(), cfg)
		if err != nil {
			logrus.Fatalf("Rollout failed: %v", err)
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			logrus.Fatalf("Writing report: %v", err)
		}
		logrus.Info("Rollout complete.")
	},
}

// trainCmd runs training iterations with periodic validation, then a test pass
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run training, validation and test passes and print the final metrics",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		metrics, err := runTraining(cmd.Context(), cfg)
		if err != nil {
			logrus.Fatalf("Training failed: %v", err)
		}
		if err := printJSON(cmd.OutOrStdout(), metrics); err != nil {
			logrus.Fatalf("Writing metrics: %v", err)
		}
		logrus.Info("Training complete.")
	},
}

// flagOverrides copies the field behind each flag. Flags the user set on the
// command line are applied on top of a --config file.
var flagOverrides = map[string]func(dst *RunConfig, src RunConfig){
	"seed":               func(d *RunConfig, s RunConfig) { d.Seed = s.Seed },
	"workers":            func(d *RunConfig, s RunConfig) { d.Workers = s.Workers },
	"strategy":           func(d *RunConfig, s RunConfig) { d.Strategy = s.Strategy },
	"orders":             func(d *RunConfig, s RunConfig) { d.Orders = s.Orders },
	"repeat":             func(d *RunConfig, s RunConfig) { d.Repeat = s.Repeat },
	"episodes":           func(d *RunConfig, s RunConfig) { d.Episodes = s.Episodes },
	"shuffle":            func(d *RunConfig, s RunConfig) { d.Shuffle = s.Shuffle },
	"queue-size":         func(d *RunConfig, s RunConfig) { d.QueueSize = s.QueueSize },
	"first-pull-timeout": func(d *RunConfig, s RunConfig) { d.FirstPullTimeout = s.FirstPullTimeout },
	"pull-timeout":       func(d *RunConfig, s RunConfig) { d.PullTimeout = s.PullTimeout },
	"drain-pause":        func(d *RunConfig, s RunConfig) { d.DrainPause = s.DrainPause },
	"policy":             func(d *RunConfig, s RunConfig) { d.Policy = s.Policy },
	"categories":         func(d *RunConfig, s RunConfig) { d.Categories = s.Categories },
	"ticks-per-step":     func(d *RunConfig, s RunConfig) { d.TicksPerStep = s.TicksPerStep },
	"vol-threshold":      func(d *RunConfig, s RunConfig) { d.VolThreshold = s.VolThreshold },
	"penalty":            func(d *RunConfig, s RunConfig) { d.Penalty = s.Penalty },
	"log-every":          func(d *RunConfig, s RunConfig) { d.LogEvery = s.LogEvery },
	"csv":                func(d *RunConfig, s RunConfig) { d.CSV = s.CSV },
	"iters":              func(d *RunConfig, s RunConfig) { d.Train.Iters = s.Train.Iters },
	"val-every":          func(d *RunConfig, s RunConfig) { d.Train.ValEvery = s.Train.ValEvery },
	"episodes-per-iter":  func(d *RunConfig, s RunConfig) { d.Train.EpisodesPerIter = s.Train.EpisodesPerIter },
	"fast-dev-run":       func(d *RunConfig, s RunConfig) { d.Train.FastDevRun = s.Train.FastDevRun },
	"train-orders":       func(d *RunConfig, s RunConfig) { d.Train.TrainOrders = s.Train.TrainOrders },
	"val-orders":         func(d *RunConfig, s RunConfig) { d.Train.ValOrders = s.Train.ValOrders },
	"test-orders":        func(d *RunConfig, s RunConfig) { d.Train.TestOrders = s.Train.TestOrders },
}

// resolveConfig merges defaults, the optional --config file and explicitly set
// flags, then validates the result.
func resolveConfig(cmd *cobra.Command) (RunConfig, error) {
	cfg := flagCfg
	if configPath != "" {
		loaded, err := LoadRunConfig(configPath, DefaultRunConfig())
		if err != nil {
			return RunConfig{}, err
		}
		cfg = loaded
		cmd.Flags().Visit(func(f *pflag.Flag) {
			if apply, ok := flagOverrides[f.Name]; ok {
				apply(&cfg, flagCfg)
			}
		})
	}
	return cfg, cfg.Validate()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	flagCfg = DefaultRunConfig()
	d := DefaultRunConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML run config")
	pf.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.Int64Var(&flagCfg.Seed, "seed", d.Seed, "Seed for order generation, shuffling and stochastic policies")

	// Supervisor and queue configs
	pf.IntVar(&flagCfg.Workers, "workers", d.Workers, "Number of worker slots")
	pf.StringVar(&flagCfg.Strategy, "strategy", d.Strategy, "Execution strategy (serial, parallel, shmem)")
	pf.IntVar(&flagCfg.QueueSize, "queue-size", d.QueueSize, "Prefetch buffer size of the order queue (0 = default)")
	pf.DurationVar(&flagCfg.FirstPullTimeout, "first-pull-timeout", d.FirstPullTimeout, "Wait for the first order of a queue")
	pf.DurationVar(&flagCfg.PullTimeout, "pull-timeout", d.PullTimeout, "Wait for later orders before checking for exhaustion")
	pf.DurationVar(&flagCfg.DrainPause, "drain-pause", d.DrainPause, "Pause between drain attempts on early close")

	// Order execution configs
	pf.StringVar(&flagCfg.Policy, "policy", d.Policy, "Policy (twap, random)")
	pf.IntVar(&flagCfg.Categories, "categories", d.Categories, "Number of discrete actions of the random policy")
	pf.IntVar(&flagCfg.TicksPerStep, "ticks-per-step", d.TicksPerStep, "Market ticks per environment step")
	pf.Float64Var(&flagCfg.VolThreshold, "vol-threshold", d.VolThreshold, "Cap on the share of market volume per tick (0 = none)")
	pf.Float64Var(&flagCfg.Penalty, "penalty", d.Penalty, "Concentration penalty of the reward")

	// Output
	pf.IntVar(&flagCfg.LogEvery, "log-every", d.LogEvery, "Log progress every this many episodes (0 = off)")
	pf.StringVar(&flagCfg.CSV, "csv", d.CSV, "Write per-episode records to this CSV file")

	runCmd.Flags().IntVar(&flagCfg.Orders, "orders", d.Orders, "Number of synthetic orders")
	runCmd.Flags().IntVar(&flagCfg.Repeat, "repeat", d.Repeat, "Passes over the orders (-1 = endless, needs --episodes)")
	runCmd.Flags().IntVar(&flagCfg.Episodes, "episodes", d.Episodes, "Stop after this many episodes (0 = when orders run out)")
	runCmd.Flags().BoolVar(&flagCfg.Shuffle, "shuffle", d.Shuffle, "Shuffle the orders of every pass")

	trainCmd.Flags().IntVar(&flagCfg.Train.Iters, "iters", d.Train.Iters, "Training iterations")
	trainCmd.Flags().IntVar(&flagCfg.Train.ValEvery, "val-every", d.Train.ValEvery, "Validate every this many iterations (0 = never)")
	trainCmd.Flags().IntVar(&flagCfg.Train.EpisodesPerIter, "episodes-per-iter", d.Train.EpisodesPerIter, "Episodes collected per training iteration")
	trainCmd.Flags().IntVar(&flagCfg.Train.FastDevRun, "fast-dev-run", d.Train.FastDevRun, "Cut every order set to this many orders (0 = off)")
	trainCmd.Flags().IntVar(&flagCfg.Train.TrainOrders, "train-orders", d.Train.TrainOrders, "Synthetic training orders")
	trainCmd.Flags().IntVar(&flagCfg.Train.ValOrders, "val-orders", d.Train.ValOrders, "Synthetic validation orders (0 = no validation)")
	trainCmd.Flags().IntVar(&flagCfg.Train.TestOrders, "test-orders", d.Train.TestOrders, "Synthetic test orders (0 = no test pass)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trainCmd)
}
