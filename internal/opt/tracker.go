package opt

import (
	"log/slog"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// TrackerOptions configures a Tracker. It is read once at construction.
type TrackerOptions struct {
	// StrictFidelity rejects untagged records in multi-fidelity mode instead
	// of treating them as taken at the target fidelity.
	StrictFidelity bool
}

// OptimumState is a snapshot of the tracker's incumbents.
type OptimumState struct {
	Optimum     Optimum
	TrueOptimum Optimum
	// TargetFidelityCalls is only meaningful in multi-fidelity mode.
	TargetFidelityCalls int
}

// Tracker maintains the running optimum of a stream of evaluation records
// and the run History.
//
// A Tracker is not safe for concurrent use. The driver serializes calls;
// records may arrive in any order relative to submission.
type Tracker struct {
	caller eval.Caller
	opts   TrackerOptions

	best        Optimum
	bestTrue    Optimum
	targetCalls int

	history *History
	seeded  bool
}

// NewTracker creates a tracker bound to caller. The caller's fidelity
// capability fixes the tracker's mode for its lifetime.
func NewTracker(caller eval.Caller, opts TrackerOptions) *Tracker {
	return &Tracker{
		caller:  caller,
		opts:    opts,
		history: newHistory(caller.IsMultiFidelity()),
	}
}

// MultiFidelity reports whether evaluations are gated on the target fidelity.
func (t *Tracker) MultiFidelity() bool { return t.caller.IsMultiFidelity() }

// Caller returns the bound caller.
func (t *Tracker) Caller() eval.Caller { return t.caller }

// Update processes one completed evaluation.
func (t *Tracker) Update(rec eval.Record) error {
	fidel, atTarget, err := t.classify(rec, -1)
	if err != nil {
		return err
	}
	if t.MultiFidelity() {
		if atTarget {
			t.targetCalls++
		}
		slog.Debug("Processing evaluation", "value", rec.Value, "fidelity", fidel, "at_target", atTarget)
	}
	if atTarget {
		t.updateOptimum(rec)
	}
	t.history.appendStep(rec, atTarget, t.best, t.bestTrue)
	return nil
}

// Seed replays prior evaluations into the optimum without logging them as
// queries. It may be called once, before any Update. The batch is validated
// up front so a bad record leaves the tracker untouched.
func (t *Tracker) Seed(prior []eval.Record) error {
	if t.seeded {
		return ErrAlreadySeeded
	}
	if t.history.Len() > 0 {
		return ErrSeedAfterUpdate
	}
	fidels := make([]eval.Fidelity, len(prior))
	targets := make([]bool, len(prior))
	for i, rec := range prior {
		f, at, err := t.classify(rec, i)
		if err != nil {
			return err
		}
		fidels[i], targets[i] = f, at
	}
	t.seeded = true
	for i, rec := range prior {
		if targets[i] {
			t.updateOptimum(rec)
		}
		t.history.appendPrior(rec, fidels[i])
	}
	slog.Debug("Seeded prior evaluations", "count", len(prior), "optimum_found", t.best.Found)
	return nil
}

// classify validates rec and decides whether it is eligible for the optimum.
// Untagged multi-fidelity records default to the target fidelity unless the
// tracker is strict.
func (t *Tracker) classify(rec eval.Record, index int) (eval.Fidelity, bool, error) {
	if err := rec.Validate(); err != nil {
		return "", false, &PreconditionError{Index: index, Reason: "invalid record", Err: err}
	}
	if !t.MultiFidelity() {
		return eval.NoFidelity, true, nil
	}
	fidel := rec.Fidelity
	if !rec.HasFidelity() {
		if t.opts.StrictFidelity {
			return "", false, &PreconditionError{Index: index, Reason: "multi-fidelity mode", Err: ErrMissingFidelity}
		}
		// TODO: review whether untagged records should count as target
		// fidelity; kept for callers that do not tag single-fidelity records.
		fidel = t.caller.TargetFidelity()
	}
	return fidel, t.caller.IsTargetFidelity(fidel), nil
}

// updateOptimum raises the observed and true incumbents independently.
// Ties keep the earlier point.
func (t *Tracker) updateOptimum(rec eval.Record) {
	if t.best.improvedBy(rec.Value) {
		t.best = Optimum{Value: rec.Value, Point: rec.Point.Clone(), Found: true}
	}
	if t.bestTrue.improvedBy(rec.TrueValue) {
		t.bestTrue = Optimum{Value: rec.TrueValue, Point: rec.Point.Clone(), Found: true}
	}
}

// Optimum returns the best observed value and its point.
func (t *Tracker) Optimum() Optimum { return snapshot(t.best) }

// TrueOptimum returns the best true value and its point.
func (t *Tracker) TrueOptimum() Optimum { return snapshot(t.bestTrue) }

// TargetFidelityCalls counts processed evaluations at the target fidelity.
// Seeded records are not counted.
func (t *Tracker) TargetFidelityCalls() int { return t.targetCalls }

// State returns a snapshot of the incumbents.
func (t *Tracker) State() OptimumState {
	return OptimumState{
		Optimum:             t.Optimum(),
		TrueOptimum:         t.TrueOptimum(),
		TargetFidelityCalls: t.targetCalls,
	}
}

// History exposes the run history. Its accessors return copies.
func (t *Tracker) History() *History { return t.history }

// Seeded reports whether prior evaluations have been replayed.
func (t *Tracker) Seeded() bool { return t.seeded }

// Result returns the final observed optimum and the history.
func (t *Tracker) Result() (Optimum, *History) {
	return t.Optimum(), t.history
}
