package exd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"golang.org/x/sync/errgroup"
)

// Config holds driver settings. It is validated once by NewDesigner and not
// modified afterwards.
type Config struct {
	// NumWorkers bounds the evaluations in flight.
	NumWorkers int

	// InitEvals is how many initial queries to request from the experiment.
	InitEvals int

	// ReportEvery logs a status line every N processed evaluations (0 = never).
	ReportEvery int

	// Prior holds previously collected evaluations for warm starts.
	Prior []eval.Record

	// Metrics is optional.
	Metrics *Metrics

	// Progress, when set, is called from the driver goroutine after every
	// processed evaluation with the evaluation count and experiment status.
	Progress func(evaluations int, status string)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num workers must be positive, got %d", c.NumWorkers)
	}
	if c.InitEvals < 0 {
		return fmt.Errorf("init evals cannot be negative, got %d", c.InitEvals)
	}
	if c.ReportEvery < 0 {
		return fmt.Errorf("report interval cannot be negative, got %d", c.ReportEvery)
	}
	return nil
}

// Designer owns the evaluation loop: it asks an Experiment for queries,
// dispatches them to a bounded worker pool, and hands completed records back
// one at a time.
type Designer struct {
	cfg Config
}

// NewDesigner validates cfg and returns a Designer.
func NewDesigner(cfg Config) (*Designer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid designer config: %w", err)
	}
	return &Designer{cfg: cfg}, nil
}

// Config returns the designer configuration.
func (d *Designer) Config() Config { return d.cfg }

// Run evaluates the experiment's initial queries and then budget further
// queries. On cancellation it stops dispatching, discards outstanding
// evaluations and returns the partial result together with ctx.Err().
func (d *Designer) Run(ctx context.Context, exp Experiment, budget int) (*Result, error) {
	if budget < 0 {
		return nil, fmt.Errorf("budget cannot be negative, got %d", budget)
	}
	start := time.Now()

	if err := exp.SetUp(); err != nil {
		return nil, fmt.Errorf("setting up %s: %w", exp.Name(), err)
	}
	if len(d.cfg.Prior) > 0 {
		if err := exp.HandlePriorEvaluations(d.cfg.Prior); err != nil {
			return nil, fmt.Errorf("handling prior evaluations for %s: %w", exp.Name(), err)
		}
		slog.Info("Loaded prior evaluations", "experiment", exp.Name(), "count", len(d.cfg.Prior))
	}

	slog.Info("Starting experiment",
		"experiment", exp.Name(),
		"budget", budget,
		"workers", d.cfg.NumWorkers,
		"asynchronous", exp.IsAsynchronous(),
		"header", exp.Header(),
	)

	r := newRunner(ctx, d.cfg, exp)
	defer r.stop()

	err := r.run(ctx, budget)
	result := &Result{
		Experiment:  exp.Name(),
		Evaluations: r.history.Len(),
		Elapsed:     time.Since(start),
		History:     r.history,
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Experiment cancelled", "experiment", exp.Name(), "evaluations", result.Evaluations)
		}
		return result, err
	}

	slog.Info("Experiment complete",
		"experiment", exp.Name(),
		"evaluations", result.Evaluations,
		"elapsed", result.Elapsed,
		"status", exp.Status(),
	)
	return result, nil
}

type outcome struct {
	query    eval.Query
	record   eval.Record
	err      error
	worker   int
	sent     time.Time
	received time.Time
}

// runner holds the state of one Run. Only the Run goroutine touches it;
// workers communicate through results.
type runner struct {
	cfg     Config
	exp     Experiment
	caller  eval.Caller
	g       *errgroup.Group
	gctx    context.Context
	cancel  context.CancelFunc
	results chan outcome
	free    []int
	history *History
}

func newRunner(ctx context.Context, cfg Config, exp Experiment) *runner {
	wctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(wctx)
	g.SetLimit(cfg.NumWorkers)

	free := make([]int, cfg.NumWorkers)
	for i := range free {
		free[i] = cfg.NumWorkers - 1 - i
	}
	return &runner{
		cfg:    cfg,
		exp:    exp,
		caller: exp.Caller(),
		g:      g,
		gctx:   gctx,
		cancel: cancel,
		// Buffered so workers never block once the loop stops receiving.
		results: make(chan outcome, cfg.NumWorkers),
		free:    free,
		history: &History{Queries: []QueryInfo{}},
	}
}

func (r *runner) stop() {
	r.cancel()
	_ = r.g.Wait()
	r.cfg.Metrics.setInFlight(0)
}

func (r *runner) inFlight() int { return r.cfg.NumWorkers - len(r.free) }

func (r *runner) run(ctx context.Context, budget int) error {
	initial, err := r.exp.InitialQueries(r.cfg.InitEvals)
	if err != nil {
		return fmt.Errorf("getting initial queries: %w", err)
	}
	for _, q := range initial {
		if len(r.free) == 0 {
			if err := r.collect(ctx); err != nil {
				return err
			}
		}
		r.dispatch(q)
	}
	slog.Debug("Initial queries dispatched", "experiment", r.exp.Name(), "count", len(initial))

	if r.exp.IsAsynchronous() {
		err = r.runAsynchronous(ctx, budget)
	} else {
		err = r.runSynchronous(ctx, budget)
	}
	if err != nil {
		return err
	}
	for r.inFlight() > 0 {
		if err := r.collect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runAsynchronous keeps every worker busy, proposing a new query as soon as
// one is free.
func (r *runner) runAsynchronous(ctx context.Context, budget int) error {
	remaining := budget
	for remaining > 0 {
		if len(r.free) == 0 {
			if err := r.collect(ctx); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q, err := r.exp.NextQuery(ctx)
		if err != nil {
			return fmt.Errorf("determining next query: %w", err)
		}
		r.dispatch(q)
		remaining--
	}
	return nil
}

// runSynchronous waits for the whole previous batch before proposing the next.
func (r *runner) runSynchronous(ctx context.Context, budget int) error {
	remaining := budget
	for remaining > 0 {
		for r.inFlight() > 0 {
			if err := r.collect(ctx); err != nil {
				return err
			}
		}
		n := min(r.cfg.NumWorkers, remaining)
		batch, err := r.exp.NextBatch(ctx, n)
		if err != nil {
			return fmt.Errorf("determining next batch: %w", err)
		}
		if len(batch) != n {
			return fmt.Errorf("next batch returned %d queries, want %d", len(batch), n)
		}
		for _, q := range batch {
			r.dispatch(q)
		}
		remaining -= n
	}
	return nil
}

func (r *runner) dispatch(q eval.Query) {
	worker := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.cfg.Metrics.setInFlight(r.inFlight())

	sent := time.Now()
	r.g.Go(func() error {
		rec, err := r.caller.Evaluate(r.gctx, q)
		r.results <- outcome{
			query:    q,
			record:   rec,
			err:      err,
			worker:   worker,
			sent:     sent,
			received: time.Now(),
		}
		return nil
	})
}

// collect waits for one completed evaluation and processes it.
func (r *runner) collect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out := <-r.results:
		r.free = append(r.free, out.worker)
		r.cfg.Metrics.setInFlight(r.inFlight())
		if out.err != nil {
			return fmt.Errorf("evaluation on worker %d failed: %w", out.worker, out.err)
		}
		return r.process(out)
	}
}

func (r *runner) process(out outcome) error {
	info := QueryInfo{
		Step:        r.history.Len(),
		Query:       out.query,
		Record:      out.record,
		Worker:      out.worker,
		SendTime:    out.sent,
		ReceiveTime: out.received,
	}
	r.history.Queries = append(r.history.Queries, info)

	if r.exp.TracksOptimum() {
		if err := r.exp.Update(out.record); err != nil {
			return fmt.Errorf("updating %s with step %d: %w", r.exp.Name(), info.Step, err)
		}
	}

	atTarget := !r.caller.IsMultiFidelity() || r.caller.IsTargetFidelity(fidelityOf(r.caller, out.record))
	r.cfg.Metrics.observe(atTarget)
	if rep, ok := r.exp.(OptimumReporter); ok {
		if v, found := rep.CurrentOptimum(); found {
			r.cfg.Metrics.setMax(v)
		}
	}

	n := r.history.Len()
	if r.cfg.Progress != nil {
		r.cfg.Progress(n, r.exp.Status())
	}
	if r.cfg.ReportEvery > 0 && n%r.cfg.ReportEvery == 0 {
		slog.Info("Experiment progress", "experiment", r.exp.Name(), "evaluations", n, "status", r.exp.Status())
	}
	return nil
}

func fidelityOf(c eval.Caller, rec eval.Record) eval.Fidelity {
	if rec.HasFidelity() {
		return rec.Fidelity
	}
	return c.TargetFidelity()
}
