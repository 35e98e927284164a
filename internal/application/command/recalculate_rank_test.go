package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/metrics"
)

func TestRecalculateRankCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     RecalculateRankCommand
		wantErr bool
	}{
		{"interactive", RecalculateRankCommand{UserID: "u1", Trigger: metrics.TriggerInteractive}, false},
		{"batch", RecalculateRankCommand{UserID: "u1", Trigger: metrics.TriggerBatch}, false},
		{"missing user", RecalculateRankCommand{Trigger: metrics.TriggerBatch}, true},
		{"unknown trigger", RecalculateRankCommand{UserID: "u1", Trigger: "cron"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				assert.True(t, shared.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRecalculateRank_UpgradesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, readyForAnalyst("u1"))

	res, err := f.recalc.RecalculateRank(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Upgraded)
	require.NotNil(t, res.NewRank)
	assert.Equal(t, rank.RankID("analyst"), *res.NewRank)
	assert.Equal(t, rank.RankID("forecaster"), res.PreviousRank)
	assert.Zero(t, res.RankPercentage)
	assert.NoError(t, res.NotifyErr)

	stored := f.get(t, "u1")
	assert.Equal(t, rank.RankID("analyst"), stored.CurrentRank)
	assert.Equal(t, now, stored.CurrentRankStartDate)
	assert.Equal(t, now, stored.LastRecalculationAt)
	require.Len(t, stored.UpgradeHistory, 1)
	assert.Equal(t, 45, stored.UpgradeHistory[0].DaysInPreviousRank)
	assert.Equal(t, 100.0, stored.UpgradeHistory[0].PercentageAtUpgrade)

	require.Len(t, f.notifier.upgrades, 1)
	notice := f.notifier.upgrades[0]
	assert.Equal(t, rank.RankID("forecaster"), notice.From)
	assert.Equal(t, rank.RankID("analyst"), notice.To)
	assert.Equal(t, 45, notice.DaysInPreviousRank)
	assert.Equal(t, metrics.TriggerInteractive, notice.Trigger)
}

func TestRecalculateRank_Cooldown(t *testing.T) {
	f := newFixture(t)
	f.seed(t, newcomer("u1"))
	ctx := context.Background()

	first, err := f.recalc.RecalculateRank(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.Upgraded)
	firstAt := now

	f.clock.Advance(10 * time.Minute)
	_, err = f.recalc.RecalculateRank(ctx, "u1")
	require.Error(t, err)
	assert.True(t, shared.IsRateLimited(err))

	var rl *shared.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.False(t, rl.NextAllowedAt.Before(firstAt.Add(time.Hour)))
	assert.Equal(t, rank.ReasonCooldown, rl.Reason)

	// The rejection does not move the stamp.
	assert.Equal(t, firstAt, f.get(t, "u1").LastRecalculationAt)

	f.clock.Set(firstAt.Add(time.Hour))
	_, err = f.recalc.RecalculateRank(ctx, "u1")
	assert.NoError(t, err)
}

func TestRecalculateRank_BatchIgnoresCooldown(t *testing.T) {
	f := newFixture(t)
	s := readyForAnalyst("u1")
	s.LastRecalculationAt = now.Add(-time.Minute)
	f.seed(t, s)

	res, err := f.recalc.Handle(context.Background(), RecalculateRankCommand{UserID: "u1", Trigger: metrics.TriggerBatch})
	require.NoError(t, err)
	assert.True(t, res.Upgraded)

	stored := f.get(t, "u1")
	assert.Equal(t, now.Add(-time.Minute), stored.LastRecalculationAt, "batch runs leave the interactive stamp alone")
	assert.Equal(t, metrics.TriggerBatch, f.notifier.upgrades[0].Trigger)
}

func TestRecalculateRank_NotifierFailureKeepsUpgrade(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errNotifierDown
	f.seed(t, readyForAnalyst("u1"))

	res, err := f.recalc.RecalculateRank(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Upgraded)
	assert.ErrorIs(t, res.NotifyErr, errNotifierDown)
	assert.Equal(t, rank.RankID("analyst"), f.get(t, "u1").CurrentRank)
}

func TestRecalculateRank_BatchSkipsUnchangedWrite(t *testing.T) {
	f := newFixture(t)
	f.seed(t, newcomer("u1"))
	ctx := context.Background()
	cmd := RecalculateRankCommand{UserID: "u1", Trigger: metrics.TriggerBatch}

	first, err := f.recalc.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, first.Written)
	version := f.get(t, "u1").Version

	second, err := f.recalc.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, second.Written)
	assert.False(t, second.Upgraded)
	assert.Equal(t, first.RankPercentage, second.RankPercentage)
	assert.Equal(t, version, f.get(t, "u1").Version)
}

func TestRecalculateRank_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.recalc.RecalculateRank(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestRecalculateRank_NeverSkipsATier(t *testing.T) {
	f := newFixture(t)
	s := readyForAnalyst("u1")
	s.CurrentRank = "observer"
	s.TotalPredictions = 1000
	s.TotalResolvedPredictions = 900
	s.CorrectPredictions = 850
	s.WeeklyActivityCount = 60
	f.seed(t, s)

	res, err := f.recalc.Handle(context.Background(), RecalculateRankCommand{UserID: "u1", Trigger: metrics.TriggerBatch})
	require.NoError(t, err)
	require.NotNil(t, res.NewRank)
	assert.Equal(t, rank.RankID("forecaster"), *res.NewRank)
	assert.Len(t, f.get(t, "u1").UpgradeHistory, 1)
}
