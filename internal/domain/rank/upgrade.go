package rank

import (
	"time"

	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// Transition is a single promotion edge in the tier state machine.
type Transition struct {
	From RankID
	To   RankID
}

// RankUpgradeResult is the outcome of evaluating one calculation.
type RankUpgradeResult struct {
	Upgraded     bool                     `json:"upgraded"`
	PreviousRank RankID                   `json:"previous_rank"`
	CurrentRank  RankID                   `json:"current_rank"`
	NewRank      *RankID                  `json:"new_rank,omitempty"`
	Percentage   float64                  `json:"percentage"`
	HistoryEntry *RankUpgradeHistoryEntry `json:"history_entry,omitempty"`

	// Changed is true when the stats record was modified and must be persisted.
	Changed bool `json:"-"`
}

// UpgradeEvaluator drives the tier state machine. The states are the tiers
// in catalog order, the only edges lead to the immediate successor, and the
// top tier is terminal.
type UpgradeEvaluator struct {
	catalog *Catalog
}

// NewUpgradeEvaluator creates an evaluator over catalog.
func NewUpgradeEvaluator(catalog *Catalog) *UpgradeEvaluator {
	return &UpgradeEvaluator{catalog: catalog}
}

// Transition returns the single edge leaving from. ok is false for the
// terminal tier.
func (e *UpgradeEvaluator) Transition(from RankID) (Transition, bool) {
	next, ok := e.catalog.Next(from)
	if !ok {
		return Transition{}, false
	}
	return Transition{From: from, To: next.ID}, true
}

// IsTerminal reports whether id has no outgoing edge.
func (e *UpgradeEvaluator) IsTerminal(id RankID) bool {
	return e.catalog.IsTop(id)
}

// Evaluate applies result to stats. Without eligibility it only records the
// new percentage. With eligibility it takes exactly one edge: appends a
// history entry, moves to the next tier, restarts the tier clock and resets
// the percentage to 0.
func (e *UpgradeEvaluator) Evaluate(stats *UserStats, result RankCalculationResult, now time.Time) (RankUpgradeResult, error) {
	const op = "Evaluate"

	if result.CurrentRank != stats.CurrentRank {
		return RankUpgradeResult{}, shared.ValidationError("rank", op,
			"user %s: calculation for %s applied to stats in %s", stats.UserID, result.CurrentRank, stats.CurrentRank)
	}

	out := RankUpgradeResult{
		PreviousRank: stats.CurrentRank,
		CurrentRank:  stats.CurrentRank,
		Percentage:   result.Percentage,
	}

	if !result.EligibleForUpgrade {
		if stats.RankPercentage != result.Percentage {
			stats.RankPercentage = result.Percentage
			out.Changed = true
		}
		return out, nil
	}

	edge, ok := e.Transition(stats.CurrentRank)
	if !ok {
		return RankUpgradeResult{}, shared.ValidationError("rank", op, "user %s: %s is terminal", stats.UserID, stats.CurrentRank)
	}
	if result.NextRank == nil || *result.NextRank != edge.To {
		return RankUpgradeResult{}, shared.ValidationError("rank", op,
			"user %s: upgrade target must be %s", stats.UserID, edge.To)
	}

	entry := RankUpgradeHistoryEntry{
		Rank:                edge.To,
		UpgradedAt:          now,
		PercentageAtUpgrade: result.Percentage,
		DaysInPreviousRank:  timeutil.WholeDaysBetween(stats.RankStart(), now),
	}

	stats.UpgradeHistory = append(stats.UpgradeHistory, entry)
	stats.CurrentRank = edge.To
	stats.CurrentRankStartDate = now
	stats.RankPercentage = 0

	to := edge.To
	out.Upgraded = true
	out.CurrentRank = edge.To
	out.NewRank = &to
	out.Percentage = 0
	out.HistoryEntry = &entry
	out.Changed = true
	return out, nil
}
