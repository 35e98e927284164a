package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/pkg/metrics"
)

// LeaderboardJobName is the scheduler name of LeaderboardRefreshJob.
const LeaderboardJobName = "refresh_leaderboards"

// LeaderboardRefresher rebuilds every tier's snapshot.
type LeaderboardRefresher interface {
	RefreshAll(ctx context.Context) error
}

// LeaderboardRefreshJob keeps snapshots warm so that reads rarely pay for a
// rebuild.
type LeaderboardRefreshJob struct {
	refresher LeaderboardRefresher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewLeaderboardRefreshJob creates a new LeaderboardRefreshJob.
func NewLeaderboardRefreshJob(refresher LeaderboardRefresher, m *metrics.Metrics, logger zerolog.Logger) *LeaderboardRefreshJob {
	return &LeaderboardRefreshJob{
		refresher: refresher,
		metrics:   m,
		logger:    logger.With().Str("job", LeaderboardJobName).Logger(),
	}
}

// Name returns the job name.
func (j *LeaderboardRefreshJob) Name() string { return LeaderboardJobName }

// Description returns a human-readable description.
func (j *LeaderboardRefreshJob) Description() string {
	return "Rebuilds the leaderboard snapshot of every tier"
}

// Run executes the job.
func (j *LeaderboardRefreshJob) Run(ctx context.Context) error {
	start := time.Now()
	err := j.refresher.RefreshAll(ctx)
	d := time.Since(start)

	j.metrics.RecordJobRun(LeaderboardJobName, d, 0, 0, err)
	if err != nil {
		j.logger.Error().Err(err).Dur("duration", d).Msg("leaderboard refresh failed")
		return err
	}
	j.logger.Debug().Dur("duration", d).Msg("leaderboards refreshed")
	return nil
}
