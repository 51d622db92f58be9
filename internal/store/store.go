package store

// Store persists run checkpoints.
// Implementations must be safe for concurrent use.
//
// Load and Delete return ErrNotFound (compare with errors.Is) when the run has
// no checkpoint. Other failures are wrapped with fmt.Errorf("context: %w", err).
type Store interface {
	// SaveCheckpoint atomically writes the checkpoint for runID, replacing any
	// previous one.
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint reads the checkpoint for runID.
	LoadCheckpoint(runID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every readable checkpoint.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the run directory, including its trace.
	DeleteCheckpoint(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
