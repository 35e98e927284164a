package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
)

func strPtr(s string) *string { return &s }

func TestHandlePrediction_CreatesOnFirstSight(t *testing.T) {
	f := newFixture(t)

	res, err := f.activity.HandlePrediction(context.Background(), RecordPredictionCommand{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, res.TotalPredictions)

	stored := f.get(t, "u1")
	assert.Equal(t, rank.RankID("observer"), stored.CurrentRank)
	assert.Equal(t, "Ada", stored.DisplayName)
	assert.Equal(t, now, stored.TenureStart)
	assert.Equal(t, now, stored.LastActiveAt)
	assert.Equal(t, 1, stored.WeeklyActivityCount)
}

func TestHandlePrediction_WeeklyActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	placements := []struct {
		days      int
		wantWeeks int
	}{
		{0, 1},
		{2, 1}, // same week
		{7, 2},
		{8, 2},
		{21, 3},
	}
	for _, p := range placements {
		_, err := f.activity.HandlePrediction(ctx, RecordPredictionCommand{UserID: "u1", PlacedAt: now.AddDate(0, 0, p.days)})
		require.NoError(t, err)
		assert.Equal(t, p.wantWeeks, f.get(t, "u1").WeeklyActivityCount, "day %d", p.days)
	}
	assert.Equal(t, len(placements), f.get(t, "u1").TotalPredictions)
}

func TestHandleResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.activity.HandlePrediction(ctx, RecordPredictionCommand{UserID: "u1"})
		require.NoError(t, err)
	}
	dist := map[string]int{"yes": 2, "no": 8}

	t.Run("did not vote", func(t *testing.T) {
		before := f.get(t, "u1").Version
		res, err := f.activity.HandleResolution(ctx, RecordResolutionCommand{
			UserID: "u1", PredictionID: "p0", Outcome: "yes", Distribution: dist,
		})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, ResolutionSkipped, res.Result)
		assert.Equal(t, before, f.get(t, "u1").Version)
	})

	t.Run("contrarian win", func(t *testing.T) {
		res, err := f.activity.HandleResolution(ctx, RecordResolutionCommand{
			UserID: "u1", PredictionID: "p1", Outcome: "yes", UserVote: strPtr("yes"), Distribution: dist,
		})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, ResolutionCorrect, res.Result)

		stored := f.get(t, "u1")
		assert.Equal(t, 1, stored.TotalResolvedPredictions)
		assert.Equal(t, 1, stored.CorrectPredictions)
		assert.Equal(t, 1, stored.ContrarianWinsCount)
		assert.Greater(t, stored.DifficultyPoints, 0.0)
	})

	t.Run("wrong vote", func(t *testing.T) {
		res, err := f.activity.HandleResolution(ctx, RecordResolutionCommand{
			UserID: "u1", PredictionID: "p2", Outcome: "yes", UserVote: strPtr("no"), Distribution: dist,
		})
		require.NoError(t, err)
		assert.Equal(t, ResolutionIncorrect, res.Result)

		stored := f.get(t, "u1")
		assert.Equal(t, 2, stored.TotalResolvedPredictions)
		assert.Equal(t, 1, stored.CorrectPredictions)
	})
}

func TestHandleResolution_WithoutPrediction(t *testing.T) {
	f := newFixture(t)
	f.seed(t, rank.NewUserStats("u1", "", "observer", now))

	_, err := f.activity.HandleResolution(context.Background(), RecordResolutionCommand{
		UserID: "u1", PredictionID: "p1", Outcome: "yes", UserVote: strPtr("yes"), Distribution: map[string]int{"yes": 1},
	})
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, f.get(t, "u1").TotalResolvedPredictions)
}

func TestHandleResolution_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.activity.HandleResolution(context.Background(), RecordResolutionCommand{
		UserID: "ghost", PredictionID: "p1", Outcome: "yes", UserVote: strPtr("yes"),
	})
	assert.True(t, shared.IsNotFound(err))
}
