package rank

import (
	"context"
	"time"
)

// ScanFilter narrows a paged scan. Zero fields match everything.
type ScanFilter struct {
	// Rank keeps only users currently in this tier.
	Rank RankID

	// ActiveBefore keeps only users whose last activity is strictly before it.
	ActiveBefore time.Time
}

// Matches reports whether s passes the filter.
func (f ScanFilter) Matches(s *UserStats) bool {
	if f.Rank != "" && s.CurrentRank != f.Rank {
		return false
	}
	if !f.ActiveBefore.IsZero() && !s.LastActivity().Before(f.ActiveBefore) {
		return false
	}
	return true
}

// Page is one slice of a scan. An empty NextCursor means the scan is done.
type Page struct {
	Items      []*UserStats
	NextCursor string
}

// Repository is the store of record for UserStats. It is the only source of
// truth; every engine state can be rebuilt from it.
type Repository interface {
	// Get returns the record or an error matching shared.ErrNotFound.
	Get(ctx context.Context, userID string) (*UserStats, error)

	// Create inserts a new record with version 1.
	Create(ctx context.Context, stats *UserStats) error

	// Update writes stats if the stored version still equals stats.Version,
	// then increments stats.Version. A mismatch returns an error matching
	// shared.ErrStoreConflict and writes nothing.
	Update(ctx context.Context, stats *UserStats) error

	// Scan returns up to limit records after cursor in ascending user id order.
	Scan(ctx context.Context, filter ScanFilter, cursor string, limit int) (Page, error)
}
