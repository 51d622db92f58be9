package opt

import (
	"context"
	"fmt"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/exd"
)

// Options configures an Optimiser.
type Options struct {
	Tracker TrackerOptions
}

// Result is what an optimisation run returns.
type Result struct {
	Optimum     Optimum
	TrueOptimum Optimum
	History     *History
	Run         *exd.Result
}

// Optimiser binds a Method to a Tracker and runs under an exd.Designer.
type Optimiser struct {
	method  Method
	tracker *Tracker

	history HistoryHook
	report  ReportHook
	init    InitialiseHook
}

var (
	_ exd.Experiment      = (*Optimiser)(nil)
	_ exd.OptimumReporter = (*Optimiser)(nil)
)

// NewOptimiser checks that method and caller agree on fidelity support and
// returns an Optimiser. A multi-fidelity method with a single-fidelity caller
// yields *MFCallerError.
func NewOptimiser(method Method, caller eval.Caller, opts Options) (*Optimiser, error) {
	if method.IsMultiFidelity() && !caller.IsMultiFidelity() {
		return nil, &MFCallerError{Method: method.Name(), Caller: describe(caller)}
	}
	o := &Optimiser{
		method:  method,
		tracker: NewTracker(caller, opts.Tracker),
		history: NopHooks{},
		report:  NopHooks{},
		init:    NopHooks{},
	}
	if h, ok := method.(HistoryHook); ok {
		o.history = h
	}
	if h, ok := method.(ReportHook); ok {
		o.report = h
	}
	if h, ok := method.(InitialiseHook); ok {
		o.init = h
	}
	return o, nil
}

func describe(c eval.Caller) string {
	if s, ok := c.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", c)
}

// Tracker exposes the optimum state and history.
func (o *Optimiser) Tracker() *Tracker { return o.tracker }

func (o *Optimiser) Name() string          { return o.method.Name() }
func (o *Optimiser) Caller() eval.Caller   { return o.tracker.Caller() }
func (o *Optimiser) IsAsynchronous() bool  { return o.method.IsAsynchronous() }
func (o *Optimiser) IsMultiFidelity() bool { return o.method.IsMultiFidelity() }
func (o *Optimiser) TracksOptimum() bool   { return true }

func (o *Optimiser) SetUp() error {
	return o.method.SetUp(o.tracker)
}

// HandlePriorEvaluations seeds the tracker.
func (o *Optimiser) HandlePriorEvaluations(prior []eval.Record) error {
	return o.tracker.Seed(prior)
}

func (o *Optimiser) InitialQueries(n int) ([]eval.Query, error) {
	if err := o.init.OptimiseInitialise(o.tracker); err != nil {
		return nil, fmt.Errorf("initialising %s: %w", o.method.Name(), err)
	}
	if n == 0 {
		return nil, nil
	}
	return o.method.InitialQueries(o.tracker, n)
}

func (o *Optimiser) NextQuery(ctx context.Context) (eval.Query, error) {
	return o.method.NextQuery(ctx, o.tracker)
}

func (o *Optimiser) NextBatch(ctx context.Context, n int) ([]eval.Query, error) {
	return o.method.NextBatch(ctx, o.tracker, n)
}

// Update records a completed evaluation, then lets the method see it.
func (o *Optimiser) Update(rec eval.Record) error {
	if err := o.tracker.Update(rec); err != nil {
		return err
	}
	o.history.UpdateHistory(rec)
	return nil
}

func (o *Optimiser) Header() string {
	return o.tracker.Header() + o.report.HeaderString()
}

func (o *Optimiser) Status() string {
	return o.tracker.StatusLine() + o.report.StatusString()
}

// CurrentOptimum reports the observed optimum for metrics.
func (o *Optimiser) CurrentOptimum() (float64, bool) {
	return o.tracker.best.Value, o.tracker.best.Found
}

// Optimise runs the designer with the given evaluation budget and returns
// the final optimum. The result is populated even when err is non-nil.
func (o *Optimiser) Optimise(ctx context.Context, d *exd.Designer, budget int) (*Result, error) {
	run, err := d.Run(ctx, o, budget)
	return &Result{
		Optimum:     o.tracker.Optimum(),
		TrueOptimum: o.tracker.TrueOptimum(),
		History:     o.tracker.History(),
		Run:         run,
	}, err
}
