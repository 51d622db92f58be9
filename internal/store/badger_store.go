package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const checkpointKeyPrefix = "checkpoint/"

// BadgerStore implements Store on an embedded BadgerDB. It holds checkpoints
// only; traces stay on disk with FSStore.
//
// Safe for concurrent use from multiple goroutines.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dir))
}

// NewBadgerStoreInMemory creates a store whose data is lost on Close.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	// Checkpoints are small; keep the footprint low.
	opts = opts.
		WithLogger(nil).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func checkpointKey(runID string) []byte {
	return []byte(checkpointKeyPrefix + runID)
}

// SaveCheckpoint validates and writes the checkpoint in a single transaction.
func (b *BadgerStore) SaveCheckpoint(runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(runID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "run_id", runID, "backend", "badger")
	return nil
}

// LoadCheckpoint reads the checkpoint of a run.
func (b *BadgerStore) LoadCheckpoint(runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	var checkpoint Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &checkpoint)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &NotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all runs, newest first. Entries that
// fail to decode are skipped.
func (b *BadgerStore) ListCheckpoints() ([]CheckpointInfo, error) {
	infos := []CheckpointInfo{}
	prefix := []byte(checkpointKeyPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var checkpoint Checkpoint
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &checkpoint)
			})
			if err != nil {
				slog.Warn("Failed to decode checkpoint for listing", "key", string(item.Key()), "error", err)
				continue
			}
			infos = append(infos, checkpoint.ToInfo())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint of a run.
func (b *BadgerStore) DeleteCheckpoint(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		key := checkpointKey(runID)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &NotFoundError{RunID: runID}
	}
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	slog.Debug("Checkpoint deleted", "run_id", runID, "backend", "badger")
	return nil
}
