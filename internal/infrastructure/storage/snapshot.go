package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

const snapshotPrefix = "snapshot/"

// SnapshotStore keeps the last record set of every partition in a Pebble database
type SnapshotStore struct {
	db *pebble.DB
}

// OpenSnapshotStore opens or creates the store in dir
func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Load returns the stored snapshot of partition or domain.ErrSnapshotMissing
func (s *SnapshotStore) Load(ctx context.Context, partition string) (*domain.Snapshot, error) {
	value, closer, err := s.db.Get(snapshotKey(partition))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, domain.ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", partition, err)
	}
	defer closer.Close()

	var snapshot domain.Snapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", partition, err)
	}
	return &snapshot, nil
}

// Save replaces the partition's snapshot. The write is synced to disk.
func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snapshot.Partition, err)
	}
	if err := s.db.Set(snapshotKey(snapshot.Partition), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", snapshot.Partition, err)
	}
	return nil
}

// Partitions lists the partitions that have a snapshot
func (s *SnapshotStore) Partitions() ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(snapshotPrefix),
		UpperBound: []byte(snapshotPrefix[:len(snapshotPrefix)-1] + "0"),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()

	var out []string
	for it.First(); it.Valid(); it.Next() {
		out = append(out, string(it.Key()[len(snapshotPrefix):]))
	}
	return out, it.Error()
}

// Close closes the database
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func snapshotKey(partition string) []byte {
	return []byte(snapshotPrefix + partition)
}
