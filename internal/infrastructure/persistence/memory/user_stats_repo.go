// Package memory provides in-process implementations of the engine's stores.
// They back single-instance deployments and the application tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// UserStatsRepository is a map-backed rank.Repository with optimistic
// versioning. Records are copied in and out, so callers never share memory
// with the store.
type UserStatsRepository struct {
	mu    sync.RWMutex
	users map[string]*rank.UserStats
	clock timeutil.Clock
}

// NewUserStatsRepository creates an empty repository.
func NewUserStatsRepository(clock timeutil.Clock) *UserStatsRepository {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UserStatsRepository{
		users: make(map[string]*rank.UserStats),
		clock: clock,
	}
}

// Get implements rank.Repository.
func (r *UserStatsRepository) Get(ctx context.Context, userID string) (*rank.UserStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.users[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return s.Clone(), nil
}

// Create implements rank.Repository.
func (r *UserStatsRepository) Create(ctx context.Context, stats *rank.UserStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[stats.UserID]; ok {
		return shared.ErrUserExists
	}

	now := r.clock.Now()
	stats.Version = 1
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = now
	}
	stats.UpdatedAt = now
	r.users[stats.UserID] = stats.Clone()
	return nil
}

// Update implements rank.Repository.
func (r *UserStatsRepository) Update(ctx context.Context, stats *rank.UserStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[stats.UserID]
	if !ok {
		return shared.ErrUserNotFound
	}
	if stored.Version != stats.Version {
		return shared.ErrVersionStale
	}

	stats.Version++
	stats.UpdatedAt = r.clock.Now()
	r.users[stats.UserID] = stats.Clone()
	return nil
}

// Scan implements rank.Repository.
func (r *UserStatsRepository) Scan(ctx context.Context, filter rank.ScanFilter, cursor string, limit int) (rank.Page, error) {
	if err := ctx.Err(); err != nil {
		return rank.Page{}, err
	}
	if limit <= 0 {
		return rank.Page{}, shared.ValidationError("rank", "Scan", "limit must be positive")
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id, s := range r.users {
		if id > cursor && filter.Matches(s) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	more := len(ids) > limit
	if more {
		ids = ids[:limit]
	}

	page := rank.Page{Items: make([]*rank.UserStats, 0, len(ids))}
	for _, id := range ids {
		page.Items = append(page.Items, r.users[id].Clone())
	}
	r.mu.RUnlock()

	if more {
		page.NextCursor = ids[len(ids)-1]
	}
	return page, nil
}

// Len returns the number of stored records.
func (r *UserStatsRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
