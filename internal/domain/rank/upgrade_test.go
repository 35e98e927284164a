package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

func TestEvaluate_WorkedExampleAppendsOneEntry(t *testing.T) {
	calc := newCalculator()
	eval := NewUpgradeEvaluator(DefaultCatalog())
	s := forecasterAt45Days()

	res, err := calc.Compute(s, testNow)
	require.NoError(t, err)

	out, err := eval.Evaluate(s, res, testNow)
	require.NoError(t, err)

	assert.True(t, out.Upgraded)
	assert.True(t, out.Changed)
	assert.Equal(t, RankID("forecaster"), out.PreviousRank)
	require.NotNil(t, out.NewRank)
	assert.Equal(t, RankID("analyst"), *out.NewRank)

	require.Len(t, s.UpgradeHistory, 1)
	assert.Equal(t, RankUpgradeHistoryEntry{
		Rank:                "analyst",
		UpgradedAt:          testNow,
		PercentageAtUpgrade: 100,
		DaysInPreviousRank:  45,
	}, s.UpgradeHistory[0])

	assert.Equal(t, RankID("analyst"), s.CurrentRank)
	assert.Equal(t, testNow, s.CurrentRankStartDate)
	assert.Zero(t, s.RankPercentage)
}

func TestEvaluate_AdvancesExactlyOneTier(t *testing.T) {
	calc := newCalculator()
	eval := NewUpgradeEvaluator(DefaultCatalog())

	// Clears every threshold up to strategist.
	s := NewUserStats("u-burst", "", "observer", daysAgo(400))
	s.TotalPredictions = 300
	s.TotalResolvedPredictions = 200
	s.CorrectPredictions = 180
	s.WeeklyActivityCount = 30

	res, err := calc.Compute(s, testNow)
	require.NoError(t, err)
	require.True(t, res.EligibleForUpgrade)

	out, err := eval.Evaluate(s, res, testNow)
	require.NoError(t, err)
	assert.Equal(t, RankID("forecaster"), s.CurrentRank)
	assert.Equal(t, RankID("forecaster"), *out.NewRank)
	require.Len(t, s.UpgradeHistory, 1)

	// The tier clock restarted, so the analyst gate blocks an immediate second hop.
	res, err = calc.Compute(s, testNow)
	require.NoError(t, err)
	assert.Contains(t, res.Blockers, BlockerTenureGate)

	out, err = eval.Evaluate(s, res, testNow)
	require.NoError(t, err)
	assert.False(t, out.Upgraded)
	assert.Equal(t, RankID("forecaster"), s.CurrentRank)
	assert.Len(t, s.UpgradeHistory, 1)
}

func TestEvaluate_NotEligibleRecordsPercentage(t *testing.T) {
	eval := NewUpgradeEvaluator(DefaultCatalog())
	s := NewUserStats("u", "", "forecaster", daysAgo(10))
	s.RankPercentage = 12.5

	next := RankID("analyst")
	out, err := eval.Evaluate(s, RankCalculationResult{
		CurrentRank: "forecaster",
		NextRank:    &next,
		Percentage:  40.25,
	}, testNow)
	require.NoError(t, err)

	assert.False(t, out.Upgraded)
	assert.True(t, out.Changed)
	assert.Equal(t, 40.25, s.RankPercentage)
	assert.Equal(t, RankID("forecaster"), s.CurrentRank)

	out, err = eval.Evaluate(s, RankCalculationResult{CurrentRank: "forecaster", NextRank: &next, Percentage: 40.25}, testNow)
	require.NoError(t, err)
	assert.False(t, out.Changed)
}

func TestEvaluate_HistoryIsAppendOnly(t *testing.T) {
	calc := newCalculator()
	eval := NewUpgradeEvaluator(DefaultCatalog())

	s := NewUserStats("u-climb", "", "observer", daysAgo(1000))
	s.TotalPredictions = 1000
	s.TotalResolvedPredictions = 900
	s.CorrectPredictions = 850
	s.WeeklyActivityCount = 200

	var snapshots [][]RankUpgradeHistoryEntry
	now := testNow
	for i := 0; i < 6; i++ {
		res, err := calc.Compute(s, now)
		require.NoError(t, err)
		_, err = eval.Evaluate(s, res, now)
		require.NoError(t, err)

		snap := make([]RankUpgradeHistoryEntry, len(s.UpgradeHistory))
		copy(snap, s.UpgradeHistory)
		snapshots = append(snapshots, snap)
		now = now.AddDate(0, 0, 200)
	}

	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		require.GreaterOrEqual(t, len(cur), len(prev))
		assert.Equal(t, prev, cur[:len(prev)], "run %d rewrote earlier history", i)
	}

	assert.Equal(t, RankID("oracle"), s.CurrentRank)
	assert.Len(t, s.UpgradeHistory, 4)
	assert.NoError(t, s.Validate(DefaultCatalog()))
}

func TestEvaluate_RejectsSkipAndStaleResults(t *testing.T) {
	eval := NewUpgradeEvaluator(DefaultCatalog())
	s := NewUserStats("u", "", "observer", daysAgo(10))

	skip := RankID("analyst")
	_, err := eval.Evaluate(s, RankCalculationResult{CurrentRank: "observer", NextRank: &skip, EligibleForUpgrade: true, Percentage: 100}, testNow)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = eval.Evaluate(s, RankCalculationResult{CurrentRank: "analyst", Percentage: 10}, testNow)
	assert.ErrorIs(t, err, shared.ErrValidation)

	top := NewUserStats("u-top", "", "oracle", daysAgo(10))
	_, err = eval.Evaluate(top, RankCalculationResult{CurrentRank: "oracle", EligibleForUpgrade: true, Percentage: 100}, testNow)
	assert.ErrorIs(t, err, shared.ErrValidation)

	assert.Empty(t, s.UpgradeHistory)
	assert.Equal(t, RankID("observer"), s.CurrentRank)
}

func TestTransitions(t *testing.T) {
	eval := NewUpgradeEvaluator(DefaultCatalog())

	edge, ok := eval.Transition("observer")
	require.True(t, ok)
	assert.Equal(t, Transition{From: "observer", To: "forecaster"}, edge)

	_, ok = eval.Transition("oracle")
	assert.False(t, ok)
	assert.True(t, eval.IsTerminal("oracle"))
}
