package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/memory"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// Monday.
var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	upgrades []rank.UpgradeNotice
	err      error
}

func (n *recordingNotifier) NotifyUpgraded(_ context.Context, notice rank.UpgradeNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.upgrades = append(n.upgrades, notice)
	return n.err
}

func (n *recordingNotifier) NotifyInactive(context.Context, rank.InactivityNotice) error {
	return nil
}

type fixture struct {
	clock    *timeutil.FakeClock
	repo     *memory.UserStatsRepository
	catalog  *rank.Catalog
	notifier *recordingNotifier

	recalc   *RecalculateRankHandler
	activity *RecordActivityHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := timeutil.NewFakeClock(now)
	repo := memory.NewUserStatsRepository(clock)
	catalog := rank.DefaultCatalog()
	updater := rank.NewUpdater(repo, catalog, 3, nil)
	notifier := &recordingNotifier{}

	return &fixture{
		clock:    clock,
		repo:     repo,
		catalog:  catalog,
		notifier: notifier,
		recalc: NewRecalculateRankHandler(
			updater,
			rank.NewScoreCalculator(catalog, rank.DefaultScoringPolicy()),
			rank.NewUpgradeEvaluator(catalog),
			rank.NewRateLimiter(time.Hour),
			notifier,
			nil,
			clock,
			zerolog.Nop(),
		),
		activity: NewRecordActivityHandler(updater, catalog, nil, clock, zerolog.Nop()),
	}
}

func (f *fixture) seed(t *testing.T, s *rank.UserStats) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), s))
}

func (f *fixture) get(t *testing.T, userID string) *rank.UserStats {
	t.Helper()
	s, err := f.repo.Get(context.Background(), userID)
	require.NoError(t, err)
	return s
}

// readyForAnalyst is a forecaster who meets every analyst criterion.
func readyForAnalyst(id string) *rank.UserStats {
	s := rank.NewUserStats(id, "Ready", "forecaster", now.AddDate(0, 0, -120))
	s.CurrentRankStartDate = now.AddDate(0, 0, -45)
	s.TotalPredictions = 50
	s.TotalResolvedPredictions = 40
	s.CorrectPredictions = 32
	s.WeeklyActivityCount = 6
	s.LastActiveAt = now.AddDate(0, 0, -1)
	return s
}

// newcomer is an observer far from the next tier.
func newcomer(id string) *rank.UserStats {
	s := rank.NewUserStats(id, "New", "observer", now.AddDate(0, 0, -3))
	s.TotalPredictions = 4
	s.TotalResolvedPredictions = 2
	s.CorrectPredictions = 1
	s.WeeklyActivityCount = 1
	s.LastActiveAt = now.AddDate(0, 0, -1)
	return s
}

var errNotifierDown = errors.New("notifier down")
