package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/blackboxopt/internal/config"
	"github.com/cwbudde/blackboxopt/internal/opt"
	"github.com/cwbudde/blackboxopt/internal/server"
	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

func newCmdTestStores(t *testing.T, backend string) *stores {
	t.Helper()
	s, err := openStores(t.TempDir(), backend)
	if err != nil {
		t.Fatalf("Failed to open stores: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sphereConfig() config.RunConfig {
	cfg := config.Default()
	cfg.Objective = "sphere"
	cfg.Budget = 6
	cfg.InitEvals = 2
	cfg.Workers = 2
	cfg.ReportEvery = 0
	return cfg
}

func TestResolveRunConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("objective: hartmann3\nbudget: 20\nworkers: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunConfigFlags(fs)
	if err := fs.Parse([]string{"--budget", "7", "--method", "mayfly"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveRunConfig(fs, path)
	if err != nil {
		t.Fatalf("resolveRunConfig failed: %v", err)
	}
	if cfg.Objective != "hartmann3" || cfg.Workers != 3 {
		t.Errorf("File values lost: %+v", cfg)
	}
	if cfg.Budget != 7 || cfg.Method != config.MethodMayfly {
		t.Errorf("Flag overrides not applied: %+v", cfg)
	}
}

func TestResolveRunConfig_Invalid(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunConfigFlags(fs)
	if err := fs.Parse([]string{"--workers", "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveRunConfig(fs, ""); err == nil {
		t.Error("Expected error for zero workers")
	}
}

func TestNewMethod(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{config.MethodRandom, config.MethodMFRandom, config.MethodMayfly} {
		cfg.Method = name
		m, err := newMethod(cfg)
		if err != nil {
			t.Errorf("newMethod(%s) failed: %v", name, err)
			continue
		}
		if m.Name() == "" {
			t.Errorf("newMethod(%s) returned unnamed method", name)
		}
	}

	cfg.Method = "annealing"
	if _, err := newMethod(cfg); err == nil {
		t.Error("Expected error for unknown method")
	}
}

func TestExecuteRun(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	runs := server.NewRunRegistry()
	env := runEnv{stores: st, runs: runs, registerer: prometheus.NewRegistry()}

	checkpoint, err := executeRun(context.Background(), env, "run-1", sphereConfig())
	if err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}
	if !checkpoint.Completed || checkpoint.Evaluations != 8 {
		t.Errorf("Unexpected checkpoint: %+v", checkpoint)
	}
	if checkpoint.Optimum == nil || checkpoint.Optimum.Value > 0 {
		t.Errorf("Sphere optimum must be found and non-positive: %+v", checkpoint.Optimum)
	}

	loaded, err := st.checkpoints.LoadCheckpoint("run-1")
	if err != nil {
		t.Fatalf("Checkpoint not stored: %v", err)
	}
	if loaded.Experiment != "random" || loaded.Config.Objective != "sphere" {
		t.Errorf("Unexpected stored checkpoint: %+v", loaded)
	}

	records, err := st.traces.LoadPriorEvaluations("run-1")
	if err != nil {
		t.Fatalf("Trace not stored: %v", err)
	}
	if len(records) != 8 {
		t.Errorf("Expected 8 trace records, got %d", len(records))
	}

	live, ok := runs.Get("run-1")
	if !ok || live.State != server.StateCompleted || live.Evaluations != 8 {
		t.Errorf("Unexpected live run: %+v", live)
	}
}

func TestExecuteRun_WarmStart(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := sphereConfig()

	first, err := executeRun(context.Background(), runEnv{stores: st}, "first", cfg)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	prior, err := loadPrior(st, cfg, "", "first")
	if err != nil {
		t.Fatalf("loadPrior failed: %v", err)
	}
	env := runEnv{stores: st, prior: prior, resumedFrom: "first"}
	second, err := executeRun(context.Background(), env, "second", cfg)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.PriorEvaluations != 8 || second.ResumedFrom != "first" {
		t.Errorf("Unexpected warm-start bookkeeping: %+v", second)
	}
	if second.Optimum.Value < first.Optimum.Value {
		t.Errorf("Warm-started optimum %v below prior optimum %v", second.Optimum.Value, first.Optimum.Value)
	}

	other := cfg
	other.Objective = "branin"
	_, err = loadPrior(st, other, "", "first")
	var compat *store.CompatibilityError
	if !errors.As(err, &compat) {
		t.Errorf("Expected CompatibilityError, got %v", err)
	}
}

func TestExecuteRun_PriorFromFile(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := sphereConfig()
	if _, err := executeRun(context.Background(), runEnv{stores: st}, "source", cfg); err != nil {
		t.Fatal(err)
	}

	prior, err := loadPrior(st, cfg, st.traces.TracePath("source"), "")
	if err != nil {
		t.Fatalf("loadPrior from file failed: %v", err)
	}
	if len(prior) != 8 {
		t.Errorf("Expected 8 prior records, got %d", len(prior))
	}

	if prior, err := loadPrior(st, cfg, "", ""); err != nil || prior != nil {
		t.Errorf("Expected no prior, got %v, %v", prior, err)
	}
	if _, err := loadPrior(st, cfg, "", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestExecuteRun_Cancelled(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	runs := server.NewRunRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checkpoint, err := executeRun(ctx, runEnv{stores: st, runs: runs}, "cancelled", sphereConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if checkpoint == nil || checkpoint.Completed {
		t.Fatalf("Expected an incomplete checkpoint, got %+v", checkpoint)
	}
	if _, err := st.checkpoints.LoadCheckpoint("cancelled"); err != nil {
		t.Errorf("Interrupted run should still be stored: %v", err)
	}
	if live, _ := runs.Get("cancelled"); live.State != server.StateCancelled {
		t.Errorf("Expected cancelled state, got %s", live.State)
	}
}

func TestExecuteRun_MultiFidelityMethodNeedsMultiFidelityObjective(t *testing.T) {
	cfg := sphereConfig()
	cfg.Method = config.MethodMFRandom

	_, err := executeRun(context.Background(), runEnv{stores: newCmdTestStores(t, backendFS)}, "mf", cfg)
	var mfErr *opt.MFCallerError
	if !errors.As(err, &mfErr) {
		t.Errorf("Expected MFCallerError, got %v", err)
	}
}

func TestExecuteInit(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := config.Default()
	cfg.Objective = "currin-mf"
	cfg.Workers = 3

	checkpoint, err := executeInit(context.Background(), st, "init-1", cfg, 5)
	if err != nil {
		t.Fatalf("executeInit failed: %v", err)
	}
	if checkpoint.Experiment != "initialiser" || checkpoint.Evaluations != 5 {
		t.Errorf("Unexpected checkpoint: %+v", checkpoint)
	}
	if checkpoint.TargetFidelityCalls != 5 {
		t.Errorf("Sampled points are taken at the target fidelity, got %d target calls", checkpoint.TargetFidelityCalls)
	}
	if checkpoint.Optimum == nil {
		t.Error("Expected an optimum rebuilt from the sample")
	}

	if _, err := executeInit(context.Background(), st, "init-2", cfg, 0); err == nil {
		t.Error("Expected error for zero points")
	}
}

func TestShowStoredRun(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	if _, err := executeRun(context.Background(), runEnv{stores: st}, "shown", sphereConfig()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := showStoredRun(&buf, st, "shown"); err != nil {
		t.Fatalf("showStoredRun failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Run shown (random on sphere): 8 evaluations", "Trace statistics:", "improving steps"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}

	if err := showStoredRun(&buf, st, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestExecuteRun_BadgerBackend(t *testing.T) {
	st := newCmdTestStores(t, backendBadger)
	if _, err := executeRun(context.Background(), runEnv{stores: st}, "db-run", sphereConfig()); err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}

	infos, err := st.checkpoints.ListCheckpoints()
	if err != nil || len(infos) != 1 || infos[0].RunID != "db-run" {
		t.Fatalf("Unexpected listing: %+v, %v", infos, err)
	}
	if _, err := os.Stat(st.traces.TracePath("db-run")); err != nil {
		t.Errorf("Trace should stay on disk: %v", err)
	}

	if err := st.deleteRun("db-run"); err != nil {
		t.Fatalf("deleteRun failed: %v", err)
	}
	if _, err := st.checkpoints.LoadCheckpoint("db-run"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected checkpoint gone, got %v", err)
	}
	if _, err := os.Stat(st.traces.RunDir("db-run")); !os.IsNotExist(err) {
		t.Errorf("Expected run directory removed, got %v", err)
	}
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	if _, err := openStores(t.TempDir(), "sqlite"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestResolveRunConfig_NoiseAndMinimise(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunConfigFlags(fs)
	if err := fs.Parse([]string{"--noise", "0.2", "--minimise"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveRunConfig(fs, "")
	if err != nil {
		t.Fatalf("resolveRunConfig failed: %v", err)
	}
	if cfg.Noise != 0.2 || !cfg.Minimise {
		t.Errorf("Flags not applied: noise=%v minimise=%t", cfg.Noise, cfg.Minimise)
	}
}

func TestExecuteRun_NoiseIsStored(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := sphereConfig()
	cfg.Noise = 0.1

	if _, err := executeRun(context.Background(), runEnv{stores: st}, "noisy", cfg); err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}
	loaded, err := st.checkpoints.LoadCheckpoint("noisy")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Config.Noise != 0.1 {
		t.Errorf("Stored noise = %v, want 0.1", loaded.Config.Noise)
	}

	// Observed values are perturbed; true values are the clean objective.
	records, err := st.traces.LoadPriorEvaluations("noisy")
	if err != nil {
		t.Fatal(err)
	}
	perturbed := false
	for _, r := range records {
		if r.Value != r.TrueValue {
			perturbed = true
		}
	}
	if !perturbed {
		t.Error("Expected noisy observations in the trace")
	}
}

func TestExecuteRun_ResumeChainKeepsIncumbent(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := sphereConfig()
	cfg.Budget = 40

	a, err := executeRun(context.Background(), runEnv{stores: st}, "a", cfg)
	if err != nil {
		t.Fatalf("run a failed: %v", err)
	}

	// Later generations spend a small budget, so their own traces rarely
	// hold the incumbent.
	cfg.Budget = 1
	cfg.Seed = 7
	resume := func(id, from string) *store.Checkpoint {
		t.Helper()
		prior, err := loadPrior(st, cfg, "", from)
		if err != nil {
			t.Fatalf("loadPrior(%s) failed: %v", from, err)
		}
		cp, err := executeRun(context.Background(), runEnv{stores: st, prior: prior, resumedFrom: from}, id, cfg)
		if err != nil {
			t.Fatalf("run %s failed: %v", id, err)
		}
		return cp
	}
	b := resume("b", "a")
	c := resume("c", "b")

	if b.PriorEvaluations != a.Evaluations {
		t.Errorf("b prior = %d, want %d", b.PriorEvaluations, a.Evaluations)
	}
	if want := a.Evaluations + b.Evaluations; c.PriorEvaluations != want {
		t.Errorf("c prior = %d, want %d (a and b)", c.PriorEvaluations, want)
	}
	if b.Optimum.Value < a.Optimum.Value {
		t.Errorf("b optimum %v regressed below a optimum %v", b.Optimum.Value, a.Optimum.Value)
	}
	if c.Optimum.Value < b.Optimum.Value {
		t.Errorf("c optimum %v regressed below b optimum %v", c.Optimum.Value, b.Optimum.Value)
	}

	// A deleted ancestor shortens the chain instead of failing it.
	if err := st.deleteRun("a"); err != nil {
		t.Fatal(err)
	}
	prior, err := loadPrior(st, cfg, "", "c")
	if err != nil {
		t.Fatalf("loadPrior with missing ancestor failed: %v", err)
	}
	if want := b.Evaluations + c.Evaluations; len(prior) != want {
		t.Errorf("Expected %d records from b and c, got %d", want, len(prior))
	}
}

func TestExecuteRun_Minimise(t *testing.T) {
	st := newCmdTestStores(t, backendFS)
	cfg := sphereConfig()
	cfg.Minimise = true

	checkpoint, err := executeRun(context.Background(), runEnv{stores: st}, "min", cfg)
	if err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}

	// The trace holds the objective's own values; sphere is never positive.
	records, err := st.traces.LoadPriorEvaluations("min")
	if err != nil {
		t.Fatal(err)
	}
	lowest := records[0].Value
	for _, r := range records {
		if r.Value > 0 {
			t.Fatalf("Trace value %v is not in the objective's sign", r.Value)
		}
		if r.Value < lowest {
			lowest = r.Value
		}
	}
	if checkpoint.Optimum == nil || checkpoint.Optimum.Value != lowest {
		t.Errorf("Optimum = %+v, want the smallest trace value %v", checkpoint.Optimum, lowest)
	}

	tr, err := store.NewTraceReader(st.traces.TracePath("min"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1].RunningMax
	if last == nil || *last != lowest {
		t.Errorf("Final running optimum = %v, want %v", last, lowest)
	}

	// A warm start keeps the minimum.
	prior, err := loadPrior(st, cfg, "", "min")
	if err != nil {
		t.Fatal(err)
	}
	second, err := executeRun(context.Background(), runEnv{stores: st, prior: prior, resumedFrom: "min"}, "min-2", cfg)
	if err != nil {
		t.Fatalf("warm-started run failed: %v", err)
	}
	if second.Optimum.Value > checkpoint.Optimum.Value {
		t.Errorf("Warm-started minimum %v above prior minimum %v", second.Optimum.Value, checkpoint.Optimum.Value)
	}

	var buf bytes.Buffer
	if err := showStoredRun(&buf, st, "min"); err != nil {
		t.Fatalf("showStoredRun failed: %v", err)
	}
	for _, want := range []string{"minimum:", "min value"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Output missing %q:\n%s", want, buf.String())
		}
	}
}
