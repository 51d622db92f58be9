package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cwbudde/blackboxopt/internal/store"
)

const (
	backendFS     = "fs"
	backendBadger = "badger"
)

// stores bundles run storage. Traces always live in the run directories of
// the filesystem store; checkpoints go to the selected backend.
type stores struct {
	traces      *store.FSStore
	checkpoints store.Store
	closer      func() error
}

// openStores opens the storage under dir for the given backend.
func openStores(dir, backend string) (*stores, error) {
	traces, err := store.NewFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	switch backend {
	case backendFS:
		return &stores{traces: traces, checkpoints: traces, closer: func() error { return nil }}, nil
	case backendBadger:
		db, err := store.NewBadgerStore(filepath.Join(dir, "checkpoints.badger"))
		if err != nil {
			return nil, err
		}
		return &stores{traces: traces, checkpoints: db, closer: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (valid: %s, %s)", backend, backendFS, backendBadger)
	}
}

func (s *stores) Close() error { return s.closer() }

// deleteRun removes a run's checkpoint and its trace directory.
func (s *stores) deleteRun(runID string) error {
	if err := s.checkpoints.DeleteCheckpoint(runID); err != nil {
		return err
	}
	if fs, ok := s.checkpoints.(*store.FSStore); ok && fs == s.traces {
		return nil
	}
	if err := s.traces.DeleteCheckpoint(runID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}
