package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/blackboxopt/internal/bench"
	"github.com/cwbudde/blackboxopt/internal/config"
	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/exd"
	"github.com/cwbudde/blackboxopt/internal/opt"
	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	initObjective string
	initPoints    int
	initWorkers   int
	initSeed      int64
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Evaluate a batch of random points without optimising",
	Long: `Evaluates --points uniformly sampled points of the objective and stores them
as a run. The stored run can seed later optimisations via run --prior-run.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initObjective, "objective", config.Default().Objective, fmt.Sprintf("Objective to evaluate %v", bench.Names()))
	initCmd.Flags().IntVar(&initPoints, "points", 10, "Number of points to evaluate")
	initCmd.Flags().IntVar(&initWorkers, "workers", 1, "Parallel evaluation workers")
	initCmd.Flags().Int64Var(&initSeed, "seed", 1, "Random seed")
	rootCmd.AddCommand(initCmd)
}

// samplePoints draws n uniform points within the caller's bounds. Queries on
// a multi-fidelity caller are taken at the target fidelity.
func samplePoints(caller eval.Caller, n int, seed int64) []eval.Query {
	rng := rand.New(rand.NewSource(seed))
	lower, upper := caller.Bounds()
	queries := make([]eval.Query, n)
	for i := range queries {
		p := make(eval.Point, len(lower))
		for j := range p {
			p[j] = lower[j] + rng.Float64()*(upper[j]-lower[j])
		}
		queries[i] = eval.Query{Point: p, Fidelity: caller.TargetFidelity()}
	}
	return queries
}

// executeInit evaluates the sample and stores it as run runID. The
// initialiser does not track an optimum, so the stored optimum is rebuilt by
// replaying its records through a tracker.
func executeInit(ctx context.Context, s *stores, runID string, cfg config.RunConfig, points int) (*store.Checkpoint, error) {
	if points <= 0 {
		return nil, fmt.Errorf("points must be positive, got %d", points)
	}
	caller, err := newCaller(cfg)
	if err != nil {
		return nil, err
	}

	designer, err := exd.NewDesigner(exd.Config{NumWorkers: cfg.Workers, InitEvals: points})
	if err != nil {
		return nil, err
	}
	initializer := opt.NewInitializer(caller, opt.InitializerConfig{Queries: samplePoints(caller, points, cfg.Seed)})
	res, err := initializer.Initialise(ctx, designer)
	if err != nil {
		return nil, err
	}

	tr := opt.NewTracker(caller, opt.TrackerOptions{StrictFidelity: cfg.StrictFidelity})
	for _, rec := range res.History.Records() {
		if err := tr.Update(rec); err != nil {
			return nil, err
		}
	}
	if err := writeTrace(s.traces, runID, cfg, res.History.Queries, tr.History().RunningOptima()); err != nil {
		return nil, err
	}

	checkpoint := store.NewCheckpoint(runID, initializer.Name(), tr, cfg)
	checkpoint.Completed = true
	if err := s.checkpoints.SaveCheckpoint(runID, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := config.Default()
	cfg.Objective = initObjective
	cfg.Workers = initWorkers
	cfg.Seed = initSeed
	cfg.InitEvals = initPoints
	cfg.Budget = 0
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid init config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	checkpoint, err := executeInit(ctx, s, uuid.NewString(), cfg, initPoints)
	if err != nil {
		return err
	}
	printCheckpoint(cmd.OutOrStdout(), checkpoint)
	return nil
}
