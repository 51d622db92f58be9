package opt

import (
	"fmt"
	"strings"
)

// statusWindow is how many recent evaluations the fidelity count covers.
const statusWindow = 20

// Header describes the fields StatusLine reports.
func (t *Tracker) Header() string {
	var b strings.Builder
	b.WriteString("curr_max=<current_maximum_value>")
	if t.MultiFidelity() {
		b.WriteString(", f2o=<#queries_at_target_fidelity>")
		fmt.Fprintf(&b, "(<#queries_at_target_fidelity_in_last_%d_iterations>)", statusWindow)
	}
	return b.String()
}

// StatusLine summarises progress. It does not mutate the tracker.
func (t *Tracker) StatusLine() string {
	var b strings.Builder
	if t.best.Found {
		fmt.Fprintf(&b, "curr_max=%0.5f", t.best.Value)
	} else {
		b.WriteString("curr_max=-inf")
	}
	if t.MultiFidelity() {
		// The denominator stays fixed even while fewer evaluations exist.
		count := t.history.targetCountInWindow(statusWindow)
		fmt.Fprintf(&b, ", #f2o=%d(%d/%d)", t.targetCalls, count, statusWindow)
	}
	return b.String()
}
