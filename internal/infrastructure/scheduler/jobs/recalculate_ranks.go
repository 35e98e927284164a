package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/internal/application/command"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// RecalculationJobName is the scheduler name of RecalculationJob.
const RecalculationJobName = "recalculate_ranks"

// Recalculator runs one user's recalculation pipeline.
type Recalculator interface {
	Handle(ctx context.Context, cmd command.RecalculateRankCommand) (*command.RecalculateRankResult, error)
}

// RankRecalculationJobResult summarises one batch run.
type RankRecalculationJobResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	UsersProcessed    int `json:"users_processed"`
	UpgradesTriggered int `json:"upgrades_triggered"`
	Updated           int `json:"updated"`
	Unchanged         int `json:"unchanged"`

	ErrorCount   int           `json:"error_count"`
	ErrorDetails []ErrorDetail `json:"error_details"`

	// Aborted is set when the scan stopped before reaching the last page.
	Aborted string `json:"aborted,omitempty"`
}

// RecalculationJob recalculates every user's rank. Batch recalculation is
// not rate limited and never touches the interactive cooldown stamp.
type RecalculationJob struct {
	repo         rank.Repository
	recalculator Recalculator
	config       ScanConfig
	metrics      *metrics.Metrics
	clock        timeutil.Clock
	logger       zerolog.Logger

	lastRunStats atomic.Value // *RankRecalculationJobResult
}

// NewRecalculationJob creates a new RecalculationJob.
func NewRecalculationJob(
	repo rank.Repository,
	recalculator Recalculator,
	config ScanConfig,
	m *metrics.Metrics,
	clock timeutil.Clock,
	logger zerolog.Logger,
) *RecalculationJob {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RecalculationJob{
		repo:         repo,
		recalculator: recalculator,
		config:       config.withDefaults(),
		metrics:      m,
		clock:        clock,
		logger:       logger.With().Str("job", RecalculationJobName).Logger(),
	}
}

// Name returns the job name.
func (j *RecalculationJob) Name() string { return RecalculationJobName }

// Description returns a human-readable description.
func (j *RecalculationJob) Description() string {
	return "Recalculates every user's rank percentage and applies due upgrades"
}

// Run executes the job for the scheduler.
func (j *RecalculationJob) Run(ctx context.Context) error {
	_, err := j.Execute(ctx)
	return err
}

// Execute runs one pass over all users. Per-user failures are collected in
// the result; only a failed page fetch is returned as an error.
func (j *RecalculationJob) Execute(ctx context.Context) (*RankRecalculationJobResult, error) {
	startedAt := j.clock.Now()
	wall := time.Now()
	result := &RankRecalculationJobResult{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
	}
	log := j.logger.With().Str("run_id", result.RunID).Logger()
	log.Info().Msg("recalculation started")

	var processed, upgraded, updated, unchanged atomic.Int64
	errs := &errorLog{}

	scanErr := scanUsers(ctx, j.repo, rank.ScanFilter{}, j.config,
		func(ctx context.Context, stats *rank.UserStats) error {
			processed.Add(1)
			res, err := j.recalculator.Handle(ctx, command.RecalculateRankCommand{
				UserID:  stats.UserID,
				Trigger: metrics.TriggerBatch,
			})
			if err != nil {
				return err
			}
			switch {
			case res.Upgraded:
				upgraded.Add(1)
			case res.Written:
				updated.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		},
		func(userID string, err error) {
			log.Warn().Err(err).Str("user_id", userID).Msg("user recalculation failed")
			errs.add(userID, err)
		},
	)

	result.UsersProcessed = int(processed.Load())
	result.UpgradesTriggered = int(upgraded.Load())
	result.Updated = int(updated.Load())
	result.Unchanged = int(unchanged.Load())
	result.ErrorDetails = errs.snapshot()
	result.ErrorCount = len(result.ErrorDetails)
	if scanErr != nil {
		result.Aborted = scanErr.Error()
	}
	result.Duration = time.Since(wall)

	j.lastRunStats.Store(result)
	j.metrics.RecordJobRun(RecalculationJobName, result.Duration, result.UsersProcessed, result.ErrorCount, scanErr)

	ev := log.Info()
	if scanErr != nil {
		ev = log.Error().Err(scanErr)
	}
	ev.Int("processed", result.UsersProcessed).
		Int("upgrades", result.UpgradesTriggered).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("errors", result.ErrorCount).
		Dur("duration", result.Duration).
		Msg("recalculation finished")

	return result, scanErr
}

// LastRunStats returns the result of the last run, or nil before the first.
func (j *RecalculationJob) LastRunStats() *RankRecalculationJobResult {
	stats, _ := j.lastRunStats.Load().(*RankRecalculationJobResult)
	return stats
}

// LastResult implements scheduler.ResultReporter.
func (j *RecalculationJob) LastResult() any {
	if stats := j.LastRunStats(); stats != nil {
		return stats
	}
	return nil
}
