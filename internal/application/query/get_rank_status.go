// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"time"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// GetRankStatusQuery asks for a user's current standing.
type GetRankStatusQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetRankStatusQuery) Validate() error {
	if q.UserID == "" {
		return shared.ValidationError("query", "GetRankStatus", "user_id is required")
	}
	return nil
}

// RankStatus is a user's stored stats together with a fresh, unpersisted
// calculation.
type RankStatus struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	CurrentRank rank.RankID `json:"current_rank"`
	RankName    string      `json:"rank_name"`
	IsTopRank   bool        `json:"is_top_rank"`

	// StoredPercentage is the value from the last persisted recalculation.
	StoredPercentage float64                    `json:"stored_percentage"`
	Calculation      rank.RankCalculationResult `json:"calculation"`

	TotalPredictions         int     `json:"total_predictions"`
	TotalResolvedPredictions int     `json:"total_resolved_predictions"`
	CorrectPredictions       int     `json:"correct_predictions"`
	ContrarianWinsCount      int     `json:"contrarian_wins_count"`
	WeeklyActivityCount      int     `json:"weekly_activity_count"`
	InactivityStreaks        int     `json:"inactivity_streaks"`
	DifficultyPoints         float64 `json:"difficulty_points"`

	RankSince      time.Time                      `json:"rank_since"`
	LastActiveAt   *time.Time                     `json:"last_active_at,omitempty"`
	UpgradeHistory []rank.RankUpgradeHistoryEntry `json:"upgrade_history"`

	// RecalculationAllowed previews the cooldown without consuming it.
	RecalculationAllowed bool      `json:"recalculation_allowed"`
	NextRecalculationAt  time.Time `json:"next_recalculation_at"`
}

// GetRankStatusHandler handles the GetRankStatusQuery.
type GetRankStatusHandler struct {
	repo       rank.Repository
	catalog    *rank.Catalog
	calculator *rank.ScoreCalculator
	limiter    *rank.RateLimiter
	clock      timeutil.Clock
}

// NewGetRankStatusHandler creates a new GetRankStatusHandler.
func NewGetRankStatusHandler(
	repo rank.Repository,
	catalog *rank.Catalog,
	calculator *rank.ScoreCalculator,
	limiter *rank.RateLimiter,
	clock timeutil.Clock,
) *GetRankStatusHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &GetRankStatusHandler{
		repo:       repo,
		catalog:    catalog,
		calculator: calculator,
		limiter:    limiter,
		clock:      clock,
	}
}

// Handle executes the query.
func (h *GetRankStatusHandler) Handle(ctx context.Context, q GetRankStatusQuery) (*RankStatus, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	stats, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	calc, err := h.calculator.Compute(stats, now)
	if err != nil {
		return nil, err
	}
	check := h.limiter.Check(stats, now)

	status := &RankStatus{
		UserID:                   stats.UserID,
		DisplayName:              stats.DisplayName,
		CurrentRank:              stats.CurrentRank,
		IsTopRank:                h.catalog.IsTop(stats.CurrentRank),
		StoredPercentage:         stats.RankPercentage,
		Calculation:              calc,
		TotalPredictions:         stats.TotalPredictions,
		TotalResolvedPredictions: stats.TotalResolvedPredictions,
		CorrectPredictions:       stats.CorrectPredictions,
		ContrarianWinsCount:      stats.ContrarianWinsCount,
		WeeklyActivityCount:      stats.WeeklyActivityCount,
		InactivityStreaks:        stats.InactivityStreaks,
		DifficultyPoints:         stats.DifficultyPoints,
		RankSince:                stats.RankStart(),
		UpgradeHistory:           append([]rank.RankUpgradeHistoryEntry{}, stats.UpgradeHistory...),
		RecalculationAllowed:     check.Allowed,
		NextRecalculationAt:      check.NextAllowedAt,
	}
	if cfg, ok := h.catalog.Get(stats.CurrentRank); ok {
		status.RankName = cfg.Name
	}
	if !stats.LastActiveAt.IsZero() {
		last := stats.LastActiveAt
		status.LastActiveAt = &last
	}
	return status, nil
}
