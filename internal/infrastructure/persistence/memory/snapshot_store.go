package memory

import (
	"context"
	"sync"

	"github.com/truthrank/truthrank/internal/domain/leaderboard"
	"github.com/truthrank/truthrank/internal/domain/rank"
)

// SnapshotStore keeps the latest leaderboard snapshot per tier in process.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[rank.RankID]*leaderboard.Snapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[rank.RankID]*leaderboard.Snapshot)}
}

// Load implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[tier]
	if !ok {
		return nil, leaderboard.ErrSnapshotNotFound
	}
	return copySnapshot(snap), nil
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshots[snapshot.Rank] = copySnapshot(snapshot)
	s.mu.Unlock()
	return nil
}

// Delete implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Delete(ctx context.Context, tier rank.RankID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.snapshots, tier)
	s.mu.Unlock()
	return nil
}

func copySnapshot(snap *leaderboard.Snapshot) *leaderboard.Snapshot {
	c := *snap
	c.Entries = append([]leaderboard.Entry(nil), snap.Entries...)
	return &c
}
