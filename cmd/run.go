package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/blackboxopt/internal/bench"
	"github.com/cwbudde/blackboxopt/internal/config"
	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/exd"
	"github.com/cwbudde/blackboxopt/internal/opt"
	"github.com/cwbudde/blackboxopt/internal/server"
	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath  string
	flagConfig  = config.Default()
	priorPath   string
	priorRun    string
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimisation",
	Long: `Runs an optimisation method against a benchmark objective and stores the
resulting checkpoint and evaluation trace under --data-dir.

Settings come from --config (YAML) with flags taking precedence. A run can be
warm-started from an earlier run (--prior-run) or from a trace file (--prior).`,
	RunE: runOptimisation,
}

func init() {
	addRunConfigFlags(runCmd.Flags())
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration")
	runCmd.Flags().StringVar(&priorPath, "prior", "", "Trace file (JSONL) of prior evaluations for a warm start")
	runCmd.Flags().StringVar(&priorRun, "prior-run", "", "Run ID whose trace seeds this run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and run status on this address while running")
	runCmd.MarkFlagsMutuallyExclusive("prior", "prior-run")
	rootCmd.AddCommand(runCmd)
}

// addRunConfigFlags binds the run configuration flags. Only flags the user
// sets override file values; see applyFlagOverrides.
func addRunConfigFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.StringVar(&flagConfig.Objective, "objective", d.Objective, fmt.Sprintf("Objective to optimise %v", bench.Names()))
	fs.StringVar(&flagConfig.Method, "method", d.Method, "Method: random, mf-random, mayfly")
	fs.IntVar(&flagConfig.Budget, "budget", d.Budget, "Evaluations after the initial batch")
	fs.IntVar(&flagConfig.Workers, "workers", d.Workers, "Parallel evaluation workers")
	fs.BoolVar(&flagConfig.Async, "async", d.Async, "Propose a new query as soon as a worker is free")
	fs.IntVar(&flagConfig.InitEvals, "init-evals", d.InitEvals, "Initial queries before the method takes over")
	fs.IntVar(&flagConfig.ReportEvery, "report-every", d.ReportEvery, "Log progress every N evaluations (0 = never)")
	fs.Int64Var(&flagConfig.Seed, "seed", d.Seed, "Random seed")
	fs.BoolVar(&flagConfig.StrictFidelity, "strict-fidelity", d.StrictFidelity, "Reject untagged records in multi-fidelity runs")
	fs.Float64Var(&flagConfig.TargetProb, "target-prob", d.TargetProb, "mf-random: probability of querying the target fidelity")
	fs.Float64Var(&flagConfig.Noise, "noise", d.Noise, "Standard deviation of observation noise (single-fidelity objectives)")
	fs.BoolVar(&flagConfig.Minimise, "minimise", d.Minimise, "Minimise the objective instead of maximising it")
}

func applyFlagOverrides(fs *pflag.FlagSet, cfg *config.RunConfig) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("objective", func() { cfg.Objective = flagConfig.Objective })
	set("method", func() { cfg.Method = flagConfig.Method })
	set("budget", func() { cfg.Budget = flagConfig.Budget })
	set("workers", func() { cfg.Workers = flagConfig.Workers })
	set("async", func() { cfg.Async = flagConfig.Async })
	set("init-evals", func() { cfg.InitEvals = flagConfig.InitEvals })
	set("report-every", func() { cfg.ReportEvery = flagConfig.ReportEvery })
	set("seed", func() { cfg.Seed = flagConfig.Seed })
	set("strict-fidelity", func() { cfg.StrictFidelity = flagConfig.StrictFidelity })
	set("target-prob", func() { cfg.TargetProb = flagConfig.TargetProb })
	set("noise", func() { cfg.Noise = flagConfig.Noise })
	set("minimise", func() { cfg.Minimise = flagConfig.Minimise })
}

// resolveRunConfig merges the config file (if any) with explicitly set flags.
func resolveRunConfig(fs *pflag.FlagSet, path string) (config.RunConfig, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}
	applyFlagOverrides(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, fmt.Errorf("invalid run config: %w", err)
	}
	return cfg, nil
}

func newMethod(cfg config.RunConfig) (opt.Method, error) {
	switch cfg.Method {
	case config.MethodRandom:
		return opt.NewRandomSearch(cfg.Seed, cfg.Async), nil
	case config.MethodMFRandom:
		return opt.NewMFRandomSearch(cfg.Seed, cfg.Async, cfg.TargetProb), nil
	case config.MethodMayfly:
		m := opt.NewMayflySearch(cfg.Seed)
		m.Kappa = cfg.Mayfly.Kappa
		m.MaxIters = cfg.Mayfly.MaxIters
		m.PopSize = cfg.Mayfly.PopSize
		return m, nil
	default:
		return nil, fmt.Errorf("unknown method %q", cfg.Method)
	}
}

// newCaller builds the objective caller for cfg. Minimisation runs see the
// negated objective.
func newCaller(cfg config.RunConfig) (eval.Caller, error) {
	problem, err := bench.Lookup(cfg.Objective)
	if err != nil {
		return nil, err
	}
	caller := problem.NewCaller(cfg.Noise, cfg.Seed)
	if cfg.Minimise {
		caller = eval.Negate(caller)
	}
	return caller, nil
}

// runEnv carries what a run needs besides its configuration.
type runEnv struct {
	stores      *stores
	runs        *server.RunRegistry
	registerer  prometheus.Registerer
	prior       []eval.Record
	resumedFrom string
}

// executeRun runs one optimisation and persists its trace and checkpoint.
// The checkpoint is written even when the run is interrupted. env.prior is in
// the objective's own sign.
func executeRun(ctx context.Context, env runEnv, runID string, cfg config.RunConfig) (*store.Checkpoint, error) {
	caller, err := newCaller(cfg)
	if err != nil {
		return nil, err
	}
	prior := env.prior
	if cfg.Minimise {
		prior = eval.NegateRecords(prior)
	}

	method, err := newMethod(cfg)
	if err != nil {
		return nil, err
	}
	o, err := opt.NewOptimiser(method, caller, opt.Options{
		Tracker: opt.TrackerOptions{StrictFidelity: cfg.StrictFidelity},
	})
	if err != nil {
		return nil, err
	}

	metrics, err := exd.NewMetrics(env.registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	dcfg := exd.Config{
		NumWorkers:  cfg.Workers,
		InitEvals:   cfg.InitEvals,
		ReportEvery: cfg.ReportEvery,
		Prior:       prior,
		Metrics:     metrics,
	}
	if env.runs != nil {
		env.runs.Start(runID, o.Name(), o.Header())
		dcfg.Progress = env.runs.Progress(runID)
	}
	designer, err := exd.NewDesigner(dcfg)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting run", "run_id", runID, "objective", cfg.Objective, "method", o.Name(), "budget", cfg.Budget)
	res, runErr := o.Optimise(ctx, designer, cfg.Budget)
	if env.runs != nil {
		env.runs.Finish(runID, runErr)
	}
	if res.Run == nil {
		return nil, runErr
	}

	queries := res.Run.History.Queries
	running := res.History.RunningOptima()
	// A failed tracker update leaves one logged query without an optimum.
	if len(running) < len(queries) {
		queries = queries[:len(running)]
	}
	if err := writeTrace(env.stores.traces, runID, cfg, queries, running); err != nil {
		return nil, errors.Join(runErr, err)
	}

	checkpoint := store.NewCheckpoint(runID, o.Name(), o.Tracker(), cfg)
	checkpoint.ResumedFrom = env.resumedFrom
	checkpoint.Completed = runErr == nil
	if err := env.stores.checkpoints.SaveCheckpoint(runID, checkpoint); err != nil {
		return nil, errors.Join(runErr, err)
	}
	slog.Info("Run stored", "run_id", runID, "evaluations", checkpoint.Evaluations, "completed", checkpoint.Completed)
	return checkpoint, runErr
}

// writeTrace stores the processed queries of a run. Values are written in the
// objective's own sign, so a minimisation trace holds the original values and
// its running optimum is the running minimum.
func writeTrace(st *store.FSStore, runID string, cfg config.RunConfig, queries []exd.QueryInfo, running []opt.Optimum) error {
	if cfg.Minimise {
		queries, running = negateTrace(queries, running)
	}
	tw, err := st.TraceWriter(runID, false)
	if err != nil {
		return err
	}
	if err := tw.WriteRun(queries, running); err != nil {
		tw.Close()
		return err
	}
	return tw.Close()
}

func negateTrace(queries []exd.QueryInfo, running []opt.Optimum) ([]exd.QueryInfo, []opt.Optimum) {
	qs := make([]exd.QueryInfo, len(queries))
	for i, q := range queries {
		q.Record = q.Record.Negated()
		qs[i] = q
	}
	var rs []opt.Optimum
	if running != nil {
		rs = make([]opt.Optimum, len(running))
		for i, o := range running {
			rs[i] = o.Negated()
		}
	}
	return qs, rs
}

// loadPrior resolves --prior / --prior-run into records in the objective's
// own sign. A prior run must be compatible with cfg.
func loadPrior(s *stores, cfg config.RunConfig, path, runID string) ([]eval.Record, error) {
	switch {
	case path != "":
		return store.LoadPriorEvaluations(path)
	case runID != "":
		checkpoint, err := s.checkpoints.LoadCheckpoint(runID)
		if err != nil {
			return nil, err
		}
		if err := checkpoint.IsCompatible(cfg); err != nil {
			return nil, fmt.Errorf("cannot warm-start from run %s: %w", runID, err)
		}
		return loadRunChain(s, checkpoint)
	default:
		return nil, nil
	}
}

// loadRunChain collects the traces of a run and of every run it was resumed
// from, oldest first. A trace holds only the evaluations of its own run, so
// the incumbent of a resumed run may sit in an ancestor's trace. The walk
// stops early, with a warning, at an ancestor that is no longer stored.
func loadRunChain(s *stores, checkpoint *store.Checkpoint) ([]eval.Record, error) {
	var chain [][]eval.Record
	seen := make(map[string]bool)
	for cp := checkpoint; ; {
		if seen[cp.RunID] {
			return nil, fmt.Errorf("run %s appears twice in its resume chain", cp.RunID)
		}
		seen[cp.RunID] = true

		records, err := s.traces.LoadPriorEvaluations(cp.RunID)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", cp.RunID, err)
		}
		chain = append(chain, records)
		if cp.ResumedFrom == "" {
			break
		}

		parent, err := s.checkpoints.LoadCheckpoint(cp.ResumedFrom)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Resume chain is incomplete; ancestor run no longer stored",
				"run_id", cp.RunID, "resumed_from", cp.ResumedFrom)
			break
		}
		if err != nil {
			return nil, err
		}
		cp = parent
	}

	var prior []eval.Record
	for i := len(chain) - 1; i >= 0; i-- {
		prior = append(prior, chain[i]...)
	}
	return prior, nil
}

// startMonitoring serves metrics and live run status when addr is set. The
// returned stop function is always safe to call.
func startMonitoring(addr string, st store.Store) (*server.RunRegistry, prometheus.Registerer, func(), error) {
	if addr == "" {
		return nil, nil, func() {}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	runs := server.NewRunRegistry()

	srv := server.NewServer(addr, st, runs, reg)
	if err := srv.Start(); err != nil {
		return nil, nil, nil, err
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Failed to shut down monitoring server", "error", err)
		}
	}
	return runs, reg, stop, nil
}

func printCheckpoint(w io.Writer, checkpoint *store.Checkpoint) {
	fmt.Fprintf(w, "Run %s (%s on %s): %d evaluations", checkpoint.RunID, checkpoint.Experiment, checkpoint.Config.Objective, checkpoint.Evaluations)
	if checkpoint.PriorEvaluations > 0 {
		fmt.Fprintf(w, ", %d prior", checkpoint.PriorEvaluations)
	}
	fmt.Fprintln(w)
	label := "optimum"
	if checkpoint.Config.Minimise {
		label = "minimum"
	}
	if checkpoint.Optimum != nil {
		fmt.Fprintf(w, "  %s: %.6g at %v\n", label, checkpoint.Optimum.Value, checkpoint.Optimum.Point)
	} else {
		fmt.Fprintf(w, "  %s: none\n", label)
	}
	fmt.Fprintf(w, "  status:  %s\n", checkpoint.Status)
}

func runOptimisation(cmd *cobra.Command, args []string) error {
	cfg, err := resolveRunConfig(cmd.Flags(), configPath)
	if err != nil {
		return err
	}
	return startRun(cmd, cfg, priorPath, priorRun)
}

// startRun wires storage, monitoring and signal handling around executeRun.
func startRun(cmd *cobra.Command, cfg config.RunConfig, priorFile, priorRunID string) error {
	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	defer s.Close()

	prior, err := loadPrior(s, cfg, priorFile, priorRunID)
	if err != nil {
		return fmt.Errorf("failed to load prior evaluations: %w", err)
	}

	runs, reg, stop, err := startMonitoring(metricsAddr, s.checkpoints)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := runEnv{
		stores:      s,
		runs:        runs,
		registerer:  reg,
		prior:       prior,
		resumedFrom: priorRunID,
	}
	checkpoint, err := executeRun(ctx, env, uuid.NewString(), cfg)
	if checkpoint != nil {
		printCheckpoint(cmd.OutOrStdout(), checkpoint)
	}
	return err
}
