package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/farmsim/sim"
	"github.com/inference-sim/farmsim/sim/trace"
	"github.com/inference-sim/farmsim/sim/workload"
)

var (
	configPath  string        // Path to a YAML farm config
	algo        string        // Routing algorithm
	pattern     string        // Traffic pattern
	trafficRate float64       // Base requests per second
	duration    time.Duration // How long to run; 0 runs until interrupted
	minServers  int           // Autoscaler lower bound
	maxServers  int           // Autoscaler upper bound
	refresh     time.Duration // Dashboard refresh interval
	seed        int64         // Seed for the random traffic pattern
	traceLevel  string        // Decision trace level
	logLevel    string        // Log verbosity level
	noDashboard bool          // Suppress the live dashboard
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "farmsim",
	Short: "Live simulator for a load-balanced, autoscaled server farm",
}

// runCmd starts the farm using a YAML config overlaid with CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the server farm simulation",
	Run: func(cmd *cobra.Command, args []string) {
		if err := applyEnv(cmd); err != nil {
			logrus.Fatalf("%v", err)
		}

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level %q (valid: none, decisions)", traceLevel)
		}

		cfg, err := buildFarmConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		f, err := newFarm(cfg, farmOptions{
			traceLevel:  trace.TraceLevel(traceLevel),
			out:         os.Stdout,
			dashboard:   !noDashboard,
			clearScreen: true,
		})
		if err != nil {
			logrus.Fatalf("unable to set up farm: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		logrus.Infof("Starting farm: %d servers, %s routing, %s traffic at %.2f req/s",
			len(cfg.Servers), cfg.Routing, cfg.Traffic.Pattern, cfg.TrafficRate())
		startTime := time.Now()
		if err := f.run(ctx, refresh); err != nil {
			logrus.Fatalf("farm stopped with error: %v", err)
		}
		f.printSummary(os.Stdout, time.Since(startTime))
		logrus.Info("Simulation complete.")
	},
}

// policiesCmd lists the recognized routing algorithms and traffic patterns
var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List routing algorithms and traffic patterns",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Routing algorithms:")
		for _, name := range sim.ValidRoutingAlgos() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		fmt.Fprintln(out, "Traffic patterns:")
		for _, name := range workload.ValidPatterns() {
			fmt.Fprintf(out, "  %s\n", name)
		}
	},
}

// buildFarmConfig loads the YAML config (or the stock farm) and applies
// only those flags the user explicitly set.
func buildFarmConfig(cmd *cobra.Command) (*sim.FarmConfig, error) {
	cfg := sim.DefaultFarmConfig()
	if configPath != "" {
		loaded, err := sim.LoadFarmConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("algo") {
		cfg.Routing = algo
	}
	if flags.Changed("pattern") {
		cfg.Traffic.Pattern = pattern
	}
	if flags.Changed("rate") {
		r := trafficRate
		cfg.Traffic.Rate = &r
	}
	if flags.Changed("seed") {
		s := seed
		cfg.Traffic.Seed = &s
	}
	if flags.Changed("min-servers") {
		cfg.Autoscaler.MinServers = minServers
	}
	if flags.Changed("max-servers") {
		cfg.Autoscaler.MaxServers = maxServers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid farm config: %w", err)
	}
	if _, err := workload.ParsePattern(cfg.Traffic.Pattern); err != nil {
		return nil, fmt.Errorf("invalid farm config: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML farm config (servers, routing, autoscaler, traffic)")
	runCmd.Flags().StringVar(&algo, "algo", "rotating", "Routing algorithm (rotating, least-connections, weighted)")
	runCmd.Flags().StringVar(&pattern, "pattern", sim.DefaultTrafficPattern, "Traffic pattern (steady, burst, gradual, random)")
	runCmd.Flags().Float64Var(&trafficRate, "rate", sim.DefaultTrafficRate, "Base requests per second")
	runCmd.Flags().DurationVar(&duration, "duration", 0, "How long to run (0 = until interrupted)")
	runCmd.Flags().IntVar(&minServers, "min-servers", 2, "Autoscaler minimum server count")
	runCmd.Flags().IntVar(&maxServers, "max-servers", 8, "Autoscaler maximum server count")
	runCmd.Flags().DurationVar(&refresh, "refresh", time.Second, "Dashboard refresh interval")
	runCmd.Flags().Int64Var(&seed, "seed", sim.DefaultTrafficSeed, "Seed for the random traffic pattern")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", fmt.Sprintf("Decision trace level (none, decisions); decisions keeps the first %d routing records and counts the rest as dropped", trace.DefaultMaxRoutingRecords))
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Disable the live dashboard")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(policiesCmd)
}
