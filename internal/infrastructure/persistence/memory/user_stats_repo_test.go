package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/leaderboard"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func TestUserStatsRepository_OptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewUserStatsRepository(timeutil.NewFakeClock(now))

	require.NoError(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)))
	assert.ErrorIs(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)), shared.ErrAlreadyExists)

	a, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "u1")
	require.NoError(t, err)

	a.TotalPredictions = 1
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.TotalPredictions = 7
	assert.ErrorIs(t, repo.Update(ctx, b), shared.ErrStoreConflict)

	stored, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalPredictions)

	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUserStatsRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewUserStatsRepository(timeutil.NewFakeClock(now))
	require.NoError(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)))

	s, _ := repo.Get(ctx, "u1")
	s.TotalPredictions = 50

	again, _ := repo.Get(ctx, "u1")
	assert.Zero(t, again.TotalPredictions)
}

func TestUserStatsRepository_ScanPagesAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewUserStatsRepository(timeutil.NewFakeClock(now))

	for i := 0; i < 25; i++ {
		tier := rank.RankID("observer")
		if i%5 == 0 {
			tier = "forecaster"
		}
		s := rank.NewUserStats(fmt.Sprintf("u%02d", i), "", tier, now.AddDate(0, 0, -100))
		if i%2 == 0 {
			s.LastActiveAt = now.AddDate(0, 0, -1)
		}
		require.NoError(t, repo.Create(ctx, s))
	}

	collect := func(filter rank.ScanFilter, limit int) ([]string, int) {
		var ids []string
		pages := 0
		cursor := ""
		for {
			page, err := repo.Scan(ctx, filter, cursor, limit)
			require.NoError(t, err)
			pages++
			for _, s := range page.Items {
				ids = append(ids, s.UserID)
			}
			if page.NextCursor == "" {
				return ids, pages
			}
			cursor = page.NextCursor
		}
	}

	all, pages := collect(rank.ScanFilter{}, 10)
	assert.Len(t, all, 25)
	assert.Equal(t, 3, pages)
	assert.IsIncreasing(t, all)

	forecasters, _ := collect(rank.ScanFilter{Rank: "forecaster"}, 2)
	assert.Equal(t, []string{"u00", "u05", "u10", "u15", "u20"}, forecasters)

	dormant, _ := collect(rank.ScanFilter{ActiveBefore: now.AddDate(0, 0, -30)}, 100)
	assert.Len(t, dormant, 12)

	_, err := repo.Scan(ctx, rank.ScanFilter{}, "", 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore()

	_, err := store.Load(ctx, "analyst")
	assert.ErrorIs(t, err, leaderboard.ErrSnapshotNotFound)

	r := leaderboard.NewRanking()
	require.NoError(t, r.Add(leaderboard.Entry{UserID: "a", Percentage: 50}))
	snap := leaderboard.NewSnapshot("analyst", r, 10, now, time.Minute)
	require.NoError(t, store.Save(ctx, snap))

	snap.Entries[0].UserID = "mutated"
	loaded, err := store.Load(ctx, "analyst")
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Entries[0].UserID)

	require.NoError(t, store.Delete(ctx, "analyst"))
	_, err = store.Load(ctx, "analyst")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
