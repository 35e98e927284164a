package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// InactivityJobName is the scheduler name of InactivityDetectionJob.
const InactivityJobName = "detect_inactive"

// DefaultDormancyThreshold is how long a user may go without activity before
// a dormancy period is counted.
const DefaultDormancyThreshold = 30 * 24 * time.Hour

// InactivityJobResult summarises one detection run.
type InactivityJobResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	UsersScanned         int `json:"users_scanned"`
	NewlyInactive        int `json:"newly_inactive"`
	AlreadyFlagged       int `json:"already_flagged"`
	NotificationsSent    int `json:"notifications_sent"`
	NotificationFailures int `json:"notification_failures"`

	ErrorCount   int           `json:"error_count"`
	ErrorDetails []ErrorDetail `json:"error_details"`

	Aborted string `json:"aborted,omitempty"`
}

// InactivityDetectionJob counts dormancy periods. It is the only writer of
// the inactivity streak counter and never changes a user's rank.
type InactivityDetectionJob struct {
	repo      rank.Repository
	updater   *rank.Updater
	notifier  rank.Notifier
	threshold time.Duration
	config    ScanConfig
	metrics   *metrics.Metrics
	clock     timeutil.Clock
	logger    zerolog.Logger

	lastRunStats atomic.Value // *InactivityJobResult
}

// NewInactivityDetectionJob creates a new InactivityDetectionJob.
func NewInactivityDetectionJob(
	updater *rank.Updater,
	notifier rank.Notifier,
	threshold time.Duration,
	config ScanConfig,
	m *metrics.Metrics,
	clock timeutil.Clock,
	logger zerolog.Logger,
) *InactivityDetectionJob {
	if threshold <= 0 {
		threshold = DefaultDormancyThreshold
	}
	if notifier == nil {
		notifier = rank.NopNotifier{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &InactivityDetectionJob{
		repo:      updater.Repository(),
		updater:   updater,
		notifier:  notifier,
		threshold: threshold,
		config:    config.withDefaults(),
		metrics:   m,
		clock:     clock,
		logger:    logger.With().Str("job", InactivityJobName).Logger(),
	}
}

// Name returns the job name.
func (j *InactivityDetectionJob) Name() string { return InactivityJobName }

// Description returns a human-readable description.
func (j *InactivityDetectionJob) Description() string {
	return "Flags users inactive past the dormancy threshold and notifies them"
}

// Run executes the job for the scheduler.
func (j *InactivityDetectionJob) Run(ctx context.Context) error {
	_, err := j.Execute(ctx)
	return err
}

// Execute runs one detection pass.
func (j *InactivityDetectionJob) Execute(ctx context.Context) (*InactivityJobResult, error) {
	now := j.clock.Now()
	wall := time.Now()
	result := &InactivityJobResult{
		RunID:     uuid.NewString(),
		StartedAt: now,
	}
	log := j.logger.With().Str("run_id", result.RunID).Logger()
	log.Info().Dur("threshold", j.threshold).Msg("inactivity detection started")

	var scanned, newly, flagged, sent, failed atomic.Int64
	errs := &errorLog{}
	filter := rank.ScanFilter{ActiveBefore: now.Add(-j.threshold)}

	scanErr := scanUsers(ctx, j.repo, filter, j.config,
		func(ctx context.Context, candidate *rank.UserStats) error {
			scanned.Add(1)
			if candidate.DormancyFlagged() {
				flagged.Add(1)
				return nil
			}

			var marked bool
			stats, _, err := j.updater.Update(ctx, candidate.UserID, func(s *rank.UserStats) error {
				// Activity may have arrived since the scan read the page.
				if !s.IsDormant(now, j.threshold) {
					return rank.ErrNoChange
				}
				marked = s.MarkDormant(now)
				if !marked {
					return rank.ErrNoChange
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !marked {
				if stats.DormancyFlagged() {
					flagged.Add(1)
				}
				return nil
			}
			newly.Add(1)

			last := stats.LastActivity()
			notice := rank.InactivityNotice{
				UserID:            stats.UserID,
				DisplayName:       stats.DisplayName,
				LastActiveAt:      last,
				DaysInactive:      timeutil.WholeDaysBetween(last, now),
				InactivityStreaks: stats.InactivityStreaks,
				At:                now,
			}
			if err := j.notifier.NotifyInactive(ctx, notice); err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("user_id", stats.UserID).Msg("inactivity notification failed")
				return nil
			}
			sent.Add(1)
			return nil
		},
		func(userID string, err error) {
			log.Warn().Err(err).Str("user_id", userID).Msg("inactivity check failed")
			errs.add(userID, err)
		},
	)

	result.UsersScanned = int(scanned.Load())
	result.NewlyInactive = int(newly.Load())
	result.AlreadyFlagged = int(flagged.Load())
	result.NotificationsSent = int(sent.Load())
	result.NotificationFailures = int(failed.Load())
	result.ErrorDetails = errs.snapshot()
	result.ErrorCount = len(result.ErrorDetails)
	if scanErr != nil {
		result.Aborted = scanErr.Error()
	}
	result.Duration = time.Since(wall)

	j.lastRunStats.Store(result)
	j.metrics.RecordJobRun(InactivityJobName, result.Duration, result.UsersScanned, result.ErrorCount, scanErr)

	ev := log.Info()
	if scanErr != nil {
		ev = log.Error().Err(scanErr)
	}
	ev.Int("scanned", result.UsersScanned).
		Int("newly_inactive", result.NewlyInactive).
		Int("already_flagged", result.AlreadyFlagged).
		Int("notifications_sent", result.NotificationsSent).
		Int("notification_failures", result.NotificationFailures).
		Int("errors", result.ErrorCount).
		Msg("inactivity detection finished")

	return result, scanErr
}

// LastRunStats returns the result of the last run, or nil before the first.
func (j *InactivityDetectionJob) LastRunStats() *InactivityJobResult {
	stats, _ := j.lastRunStats.Load().(*InactivityJobResult)
	return stats
}

// LastResult implements scheduler.ResultReporter.
func (j *InactivityDetectionJob) LastResult() any {
	if stats := j.LastRunStats(); stats != nil {
		return stats
	}
	return nil
}
