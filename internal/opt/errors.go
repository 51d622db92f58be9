package opt

import (
	"errors"
	"fmt"
)

// MFCallerError is returned when a multi-fidelity method is bound to a
// caller without a fidelity dimension.
type MFCallerError struct {
	Method string
	Caller string
}

func (e *MFCallerError) Error() string {
	return fmt.Sprintf("called optimiser %s with caller %s: caller needs to be multi-fidelity", e.Method, e.Caller)
}

// PreconditionError reports an evaluation record the tracker cannot accept.
// Nothing is mutated when it is returned.
type PreconditionError struct {
	Index  int // position within a seeded batch, -1 for live updates
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	msg := "precondition violated: " + e.Reason
	if e.Index >= 0 {
		msg = fmt.Sprintf("precondition violated at prior record %d: %s", e.Index, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

var (
	// ErrUnsupportedInInitializer is returned by every optimisation path of
	// the Initializer. It indicates an integration bug.
	ErrUnsupportedInInitializer = errors.New("unsupported in initializer")

	// ErrAlreadySeeded is returned by a second call to Tracker.Seed.
	ErrAlreadySeeded = errors.New("prior evaluations already seeded")

	// ErrSeedAfterUpdate is returned when Seed is called after Update.
	ErrSeedAfterUpdate = errors.New("prior evaluations must be seeded before the first update")

	// ErrMissingFidelity is wrapped by PreconditionError when a strict
	// multi-fidelity tracker receives an untagged record.
	ErrMissingFidelity = errors.New("record has no fidelity")
)

func unsupported(op string) error {
	return fmt.Errorf("%s: %w", op, ErrUnsupportedInInitializer)
}
