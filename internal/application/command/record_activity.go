package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// Resolution outcome labels.
const (
	ResolutionCorrect   = "correct"
	ResolutionIncorrect = "incorrect"
	ResolutionSkipped   = "skipped"
)

// RecordPredictionCommand records that a user placed a prediction.
type RecordPredictionCommand struct {
	UserID      string
	DisplayName string

	// PlacedAt defaults to now when zero.
	PlacedAt time.Time
}

// Validate validates the command.
func (c RecordPredictionCommand) Validate() error {
	if c.UserID == "" {
		return shared.ValidationError("command", "RecordPrediction", "user_id is required")
	}
	return nil
}

// RecordResolutionCommand folds a resolved prediction into a voter's stats.
type RecordResolutionCommand struct {
	UserID       string
	PredictionID string
	Outcome      string

	// UserVote is nil when the user did not vote on the prediction.
	UserVote *string

	// Distribution maps each option to its final vote count.
	Distribution map[string]int

	ResolvedAt time.Time
}

// Validate validates the command.
func (c RecordResolutionCommand) Validate() error {
	if c.UserID == "" {
		return shared.ValidationError("command", "RecordResolution", "user_id is required")
	}
	return nil
}

// ActivityResult is returned by both activity commands.
type ActivityResult struct {
	UserID  string `json:"user_id"`
	Applied bool   `json:"applied"`

	// Result is set for resolutions: correct, incorrect or skipped.
	Result string `json:"result,omitempty"`

	TotalPredictions         int   `json:"total_predictions"`
	TotalResolvedPredictions int   `json:"total_resolved_predictions"`
	CorrectPredictions       int   `json:"correct_predictions"`
	Version                  int64 `json:"version"`
}

func newActivityResult(s *rank.UserStats, applied bool) *ActivityResult {
	return &ActivityResult{
		UserID:                   s.UserID,
		Applied:                  applied,
		TotalPredictions:         s.TotalPredictions,
		TotalResolvedPredictions: s.TotalResolvedPredictions,
		CorrectPredictions:       s.CorrectPredictions,
		Version:                  s.Version,
	}
}

// RecordActivityHandler ingests prediction and resolution activity. Both
// paths are atomic read-modify-writes.
type RecordActivityHandler struct {
	updater *rank.Updater
	catalog *rank.Catalog
	metrics *metrics.Metrics
	clock   timeutil.Clock
	logger  zerolog.Logger
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
func NewRecordActivityHandler(
	updater *rank.Updater,
	catalog *rank.Catalog,
	m *metrics.Metrics,
	clock timeutil.Clock,
	logger zerolog.Logger,
) *RecordActivityHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RecordActivityHandler{
		updater: updater,
		catalog: catalog,
		metrics: m,
		clock:   clock,
		logger:  logger.With().Str("component", "record_activity").Logger(),
	}
}

// HandlePrediction counts a placed prediction, creating the user in the
// entry tier on first sight.
func (h *RecordActivityHandler) HandlePrediction(ctx context.Context, cmd RecordPredictionCommand) (*ActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	at := cmd.PlacedAt
	if at.IsZero() {
		at = h.clock.Now()
	}

	create := func() *rank.UserStats {
		return rank.NewUserStats(cmd.UserID, cmd.DisplayName, h.catalog.Entry().ID, at)
	}
	stats, _, err := h.updater.Upsert(ctx, cmd.UserID, create, func(s *rank.UserStats) error {
		if cmd.DisplayName != "" {
			s.DisplayName = cmd.DisplayName
		}
		s.RecordPrediction(at)
		return nil
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", cmd.UserID).Msg("record prediction failed")
		return nil, err
	}

	h.logger.Debug().
		Str("user_id", stats.UserID).
		Int("total_predictions", stats.TotalPredictions).
		Msg("prediction recorded")
	return newActivityResult(stats, true), nil
}

// HandleResolution applies a resolved prediction. Users who did not vote are
// left untouched and reported as skipped.
func (h *RecordActivityHandler) HandleResolution(ctx context.Context, cmd RecordResolutionCommand) (*ActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	resolvedAt := cmd.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = h.clock.Now()
	}
	res := rank.NewPredictionResolution(cmd.PredictionID, cmd.Outcome, cmd.UserVote, cmd.Distribution, resolvedAt)
	if err := res.Validate(); err != nil {
		return nil, err
	}

	var applied bool
	stats, _, err := h.updater.Update(ctx, cmd.UserID, func(s *rank.UserStats) error {
		ok, err := s.ApplyResolution(res)
		if err != nil {
			return err
		}
		applied = ok
		if !ok {
			return rank.ErrNoChange
		}
		return nil
	})
	if err != nil {
		h.logger.Warn().Err(err).
			Str("user_id", cmd.UserID).
			Str("prediction_id", cmd.PredictionID).
			Msg("record resolution failed")
		return nil, err
	}

	label := ResolutionSkipped
	switch {
	case applied && res.IsCorrect:
		label = ResolutionCorrect
	case applied:
		label = ResolutionIncorrect
	}
	h.metrics.RecordResolution(label)

	result := newActivityResult(stats, applied)
	result.Result = label
	return result, nil
}
