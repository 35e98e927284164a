package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// setupTestDB starts a PostgreSQL container, applies the migrations and
// returns a connection to it.
func setupTestDB(t *testing.T) (*Connection, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "starting postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, dsn))

	conn, err := NewConnection(ctx, Config{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	return conn, dsn
}

func TestMigrator_StatusAndDown(t *testing.T) {
	_, dsn := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(dsn)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %d not applied", s.Version)
	}

	version, err := m.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, applied)
}

func TestUserStatsRepository_RoundTrip(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserStatsRepository(conn, timeutil.NewFakeClock(now))

	s := rank.NewUserStats("u1", "Ada", "forecaster", now.AddDate(0, 0, -90))
	s.CurrentRankStartDate = now.AddDate(0, 0, -45)
	s.LastActiveAt = now.AddDate(0, 0, -2)
	s.TotalPredictions = 60
	s.TotalResolvedPredictions = 30
	s.CorrectPredictions = 21
	s.ContrarianWinsCount = 2
	s.WeeklyActivityCount = 5
	s.DifficultyPoints = 7.25
	s.RankPercentage = 88.5
	s.UpgradeHistory = []rank.RankUpgradeHistoryEntry{{
		Rank: "forecaster", UpgradedAt: now.AddDate(0, 0, -45), PercentageAtUpgrade: 100, DaysInPreviousRank: 45,
	}}
	require.NoError(t, repo.Create(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, rank.RankID("forecaster"), got.CurrentRank)
	assert.True(t, s.TenureStart.Equal(got.TenureStart))
	assert.True(t, s.CurrentRankStartDate.Equal(got.CurrentRankStartDate))
	assert.True(t, got.LastRecalculationAt.IsZero())
	assert.True(t, got.LastDormancyDetectedAt.IsZero())
	assert.Equal(t, 21, got.CorrectPredictions)
	assert.InDelta(t, 7.25, got.DifficultyPoints, 1e-9)
	assert.Equal(t, 88.5, got.RankPercentage)
	require.Len(t, got.UpgradeHistory, 1)
	assert.Equal(t, 45, got.UpgradeHistory[0].DaysInPreviousRank)

	assert.ErrorIs(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)), shared.ErrAlreadyExists)

	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUserStatsRepository_OptimisticUpdate(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserStatsRepository(conn, timeutil.NewFakeClock(now))

	require.NoError(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)))

	a, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "u1")
	require.NoError(t, err)

	a.RecordPrediction(now)
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.RecordPrediction(now)
	assert.ErrorIs(t, repo.Update(ctx, b), shared.ErrStoreConflict)

	ghost := rank.NewUserStats("ghost", "", "observer", now)
	assert.ErrorIs(t, repo.Update(ctx, ghost), shared.ErrNotFound)

	bad, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	bad.CorrectPredictions = 10
	assert.ErrorIs(t, repo.Update(ctx, bad), shared.ErrValidation)
}

func TestUserStatsRepository_UpdateAfterDelete(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserStatsRepository(conn, timeutil.NewFakeClock(now))

	require.NoError(t, repo.Create(ctx, rank.NewUserStats("u1", "", "observer", now)))
	s, err := repo.Get(ctx, "u1")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `DELETE FROM user_stats WHERE user_id = $1`, "u1")
	require.NoError(t, err)

	s.RecordPrediction(now)
	err = repo.Update(ctx, s)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NotErrorIs(t, err, shared.ErrStoreConflict)
	assert.Equal(t, int64(1), s.Version, "version is not bumped on failure")
}

func TestConnection_WithTx(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserStatsRepository(conn, timeutil.NewFakeClock(now))

	insert := func(tx pgx.Tx, id string) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_stats (user_id, display_name, tenure_start, current_rank, version, created_at, updated_at)
			VALUES ($1, '', $2, 'observer', 1, $2, $2)`, id, now)
		return err
	}

	t.Run("commit", func(t *testing.T) {
		require.NoError(t, conn.WithTx(ctx, func(tx pgx.Tx) error { return insert(tx, "committed") }))
		_, err := repo.Get(ctx, "committed")
		assert.NoError(t, err)
	})

	t.Run("rollback keeps the cause", func(t *testing.T) {
		cause := errors.New("abort")
		err := conn.WithTx(ctx, func(tx pgx.Tx) error {
			if err := insert(tx, "rolled-back"); err != nil {
				return err
			}
			return cause
		})
		assert.ErrorIs(t, err, cause)

		_, err = repo.Get(ctx, "rolled-back")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("panic rolls back", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = conn.WithTx(ctx, func(tx pgx.Tx) error {
				_ = insert(tx, "panicked")
				panic("boom")
			})
		})
		_, err := repo.Get(ctx, "panicked")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("closed", func(t *testing.T) {
		conn.Close()
		err := conn.WithTx(ctx, func(pgx.Tx) error { return nil })
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})
}

func TestUserStatsRepository_Scan(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserStatsRepository(conn, timeutil.NewFakeClock(now))

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

	collect := func(filter rank.ScanFilter, limit int) []string {
		var ids []string
		cursor := ""
		for {
			page, err := repo.Scan(ctx, filter, cursor, limit)
			require.NoError(t, err)
			for _, s := range page.Items {
				ids = append(ids, s.UserID)
			}
			if page.NextCursor == "" {
				return ids
			}
			cursor = page.NextCursor
		}
	}

	all := collect(rank.ScanFilter{}, 10)
	assert.Len(t, all, 25)
	assert.IsIncreasing(t, all)

	assert.Equal(t, []string{"u00", "u05", "u10", "u15", "u20"}, collect(rank.ScanFilter{Rank: "forecaster"}, 2))
	assert.Len(t, collect(rank.ScanFilter{ActiveBefore: now.AddDate(0, 0, -30)}, 100), 12)
	assert.Equal(t, []string{"u05", "u15"}, collect(rank.ScanFilter{Rank: "forecaster", ActiveBefore: now.AddDate(0, 0, -30)}, 1))
}
