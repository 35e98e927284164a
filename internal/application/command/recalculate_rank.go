// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// RecalculateRankCommand asks for a user's rank to be recomputed.
type RecalculateRankCommand struct {
	UserID string

	// Trigger is metrics.TriggerInteractive or metrics.TriggerBatch. Only
	// interactive recalculations are rate limited.
	Trigger string
}

// Validate validates the command.
func (c RecalculateRankCommand) Validate() error {
	if c.UserID == "" {
		return shared.ValidationError("command", "RecalculateRank", "user_id is required")
	}
	switch c.Trigger {
	case metrics.TriggerInteractive, metrics.TriggerBatch:
		return nil
	default:
		return shared.ValidationError("command", "RecalculateRank", "unknown trigger %q", c.Trigger)
	}
}

// RecalculateRankResult is what callers see after a recalculation.
type RecalculateRankResult struct {
	Success        bool         `json:"success"`
	UserID         string       `json:"user_id"`
	RankPercentage float64      `json:"rank_percentage"`
	Upgraded       bool         `json:"upgraded"`
	PreviousRank   rank.RankID  `json:"previous_rank"`
	NewRank        *rank.RankID `json:"new_rank,omitempty"`

	// Written is false when a batch run found nothing to change.
	Written bool `json:"-"`

	// NotifyErr is set when the upgrade was persisted but the notifier failed.
	NotifyErr error `json:"-"`

	Calculation    rank.RankCalculationResult `json:"calculation"`
	RecalculatedAt time.Time                  `json:"recalculated_at"`
}

// RecalculateRankHandler runs ScoreCalculator then UpgradeEvaluator inside one
// atomic read-modify-write.
type RecalculateRankHandler struct {
	updater    *rank.Updater
	calculator *rank.ScoreCalculator
	evaluator  *rank.UpgradeEvaluator
	limiter    *rank.RateLimiter
	notifier   rank.Notifier
	metrics    *metrics.Metrics
	clock      timeutil.Clock
	logger     zerolog.Logger
}

// NewRecalculateRankHandler creates a new RecalculateRankHandler.
func NewRecalculateRankHandler(
	updater *rank.Updater,
	calculator *rank.ScoreCalculator,
	evaluator *rank.UpgradeEvaluator,
	limiter *rank.RateLimiter,
	notifier rank.Notifier,
	m *metrics.Metrics,
	clock timeutil.Clock,
	logger zerolog.Logger,
) *RecalculateRankHandler {
	if notifier == nil {
		notifier = rank.NopNotifier{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RecalculateRankHandler{
		updater:    updater,
		calculator: calculator,
		evaluator:  evaluator,
		limiter:    limiter,
		notifier:   notifier,
		metrics:    m,
		clock:      clock,
		logger:     logger.With().Str("component", "recalculate_rank").Logger(),
	}
}

// RecalculateRank is the interactive entry point. It is subject to the
// per-user cooldown and returns a *shared.RateLimitError while it is active.
func (h *RecalculateRankHandler) RecalculateRank(ctx context.Context, userID string) (*RecalculateRankResult, error) {
	return h.Handle(ctx, RecalculateRankCommand{UserID: userID, Trigger: metrics.TriggerInteractive})
}

// Handle executes the command.
func (h *RecalculateRankHandler) Handle(ctx context.Context, cmd RecalculateRankCommand) (*RecalculateRankResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	interactive := cmd.Trigger == metrics.TriggerInteractive
	now := h.clock.Now()

	var (
		calc    rank.RankCalculationResult
		outcome rank.RankUpgradeResult
	)

	stats, written, err := h.updater.Update(ctx, cmd.UserID, func(s *rank.UserStats) error {
		// Checked inside the read-modify-write so that two concurrent
		// requests cannot both pass: the loser re-reads and sees the stamp.
		if interactive {
			if check := h.limiter.Check(s, now); !check.Allowed {
				return check.Err()
			}
		}

		var err error
		calc, err = h.calculator.Compute(s, now)
		if err != nil {
			return err
		}
		outcome, err = h.evaluator.Evaluate(s, calc, now)
		if err != nil {
			return err
		}

		if interactive {
			s.LastRecalculationAt = now
			return nil
		}
		if !outcome.Changed {
			return rank.ErrNoChange
		}
		return nil
	})
	if err != nil {
		h.recordFailure(cmd, err)
		return nil, err
	}

	result := &RecalculateRankResult{
		Success:        true,
		UserID:         stats.UserID,
		RankPercentage: stats.RankPercentage,
		Upgraded:       outcome.Upgraded,
		PreviousRank:   outcome.PreviousRank,
		NewRank:        outcome.NewRank,
		Written:        written,
		Calculation:    calc,
		RecalculatedAt: now,
	}

	resultLabel := metrics.OutcomeUnchanged
	switch {
	case outcome.Upgraded:
		resultLabel = metrics.OutcomeUpgraded
		h.metrics.RecordUpgrade(stats.CurrentRank.String())
		result.NotifyErr = h.notifyUpgrade(ctx, stats, outcome, cmd.Trigger, now)
	case written:
		resultLabel = metrics.OutcomeUpdated
	}
	h.metrics.RecordRecalculation(cmd.Trigger, resultLabel)

	return result, nil
}

func (h *RecalculateRankHandler) notifyUpgrade(ctx context.Context, stats *rank.UserStats, outcome rank.RankUpgradeResult, trigger string, now time.Time) error {
	notice := rank.UpgradeNotice{
		UserID:      stats.UserID,
		DisplayName: stats.DisplayName,
		From:        outcome.PreviousRank,
		To:          *outcome.NewRank,
		Percentage:  outcome.Percentage,
		Trigger:     trigger,
		At:          now,
	}
	if outcome.HistoryEntry != nil {
		notice.DaysInPreviousRank = outcome.HistoryEntry.DaysInPreviousRank
		notice.Percentage = outcome.HistoryEntry.PercentageAtUpgrade
	}

	h.logger.Info().
		Str("user_id", stats.UserID).
		Str("from", notice.From.String()).
		Str("to", notice.To.String()).
		Str("trigger", trigger).
		Msg("user upgraded")

	if err := h.notifier.NotifyUpgraded(ctx, notice); err != nil {
		h.logger.Warn().Err(err).Str("user_id", stats.UserID).Msg("upgrade notification failed")
		return err
	}
	return nil
}

func (h *RecalculateRankHandler) recordFailure(cmd RecalculateRankCommand, err error) {
	var rl *shared.RateLimitError
	if errors.As(err, &rl) {
		h.metrics.RecordRecalculation(cmd.Trigger, metrics.OutcomeRateLimited)
		h.logger.Debug().
			Str("user_id", cmd.UserID).
			Time("next_allowed_at", rl.NextAllowedAt).
			Msg("recalculation rate limited")
		return
	}
	h.metrics.RecordRecalculation(cmd.Trigger, metrics.OutcomeError)
	h.logger.Warn().Err(err).Str("user_id", cmd.UserID).Str("trigger", cmd.Trigger).Msg("recalculation failed")
}
