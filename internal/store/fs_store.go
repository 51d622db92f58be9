package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

const (
	runsDirName        = "runs"
	checkpointFileName = "checkpoint.json"
	traceFileName      = "trace.jsonl"
)

// FSStore implements Store on the filesystem. Each run gets a directory
// <baseDir>/runs/<runID>/ holding checkpoint.json and trace.jsonl.
//
// Writes go through a temp file and rename, so concurrent readers never see a
// partial checkpoint.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

// RunDir returns the directory holding all files of a run.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.baseDir, runsDirName, runID)
}

func (fs *FSStore) checkpointPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), checkpointFileName)
}

// TracePath returns the path of the run's evaluation trace.
func (fs *FSStore) TracePath(runID string) string {
	return filepath.Join(fs.RunDir(runID), traceFileName)
}

// SaveCheckpoint validates and atomically writes the checkpoint.
func (fs *FSStore) SaveCheckpoint(runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid checkpoint: %w", err)
	}

	if err := os.MkdirAll(fs.RunDir(runID), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.checkpointPath(runID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "run_id", runID, "path", finalPath)
	return nil
}

// LoadCheckpoint reads the checkpoint of a run.
func (fs *FSStore) LoadCheckpoint(runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.checkpointPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "run_id", runID, "path", path)
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all runs, newest first. Run directories
// without a readable checkpoint are skipped.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	runsDir := filepath.Join(fs.baseDir, runsDirName)

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(runID)); os.IsNotExist(err) {
			continue
		}
		checkpoint, err := fs.LoadCheckpoint(runID)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "run_id", runID, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the run directory and everything in it.
func (fs *FSStore) DeleteCheckpoint(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.RunDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "run_id", runID, "path", runDir)
	return nil
}

// LoadPriorEvaluations reads a run's trace as records for a warm start.
func (fs *FSStore) LoadPriorEvaluations(runID string) ([]eval.Record, error) {
	path := fs.TracePath(runID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	}
	return LoadPriorEvaluations(path)
}

// TraceWriter opens the run's trace for writing.
func (fs *FSStore) TraceWriter(runID string, append bool) (*TraceWriter, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	return NewTraceWriter(fs.TracePath(runID), append)
}

// TraceReader opens the run's trace for reading.
func (fs *FSStore) TraceReader(runID string) (*TraceReader, error) {
	r, err := NewTraceReader(fs.TracePath(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID}
	}
	return r, err
}
