package rank

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// Blockers reported when a hard gate of the target tier is not met.
const (
	BlockerInsufficientPredictions = "insufficient predictions"
	BlockerInsufficientResolved    = "insufficient resolved predictions"
	BlockerTenureGate              = "tenure gate not cleared"
	BlockerInsufficientWeeks       = "insufficient active weeks"
)

// ScoringPolicy holds the tuning constants that are not per-tier.
type ScoringPolicy struct {
	// AccuracyBaselineRatio places the zero point of the accuracy sub-score
	// at this fraction of the tier's minimum accuracy.
	AccuracyBaselineRatio float64

	// InactivityStreakThreshold is the number of dormancy periods forgiven
	// before the consistency penalty applies.
	InactivityStreakThreshold int

	// InactivityPenaltyRate is the share of the consistency weight removed
	// per streak above the threshold.
	InactivityPenaltyRate float64

	// ContrarianBonusPerWin and ContrarianBonusCap shape the volume multiplier.
	ContrarianBonusPerWin float64
	ContrarianBonusCap    float64
}

// DefaultScoringPolicy returns the production tuning.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		AccuracyBaselineRatio:     0.5,
		InactivityStreakThreshold: 1,
		InactivityPenaltyRate:     0.25,
		ContrarianBonusPerWin:     0.02,
		ContrarianBonusCap:        0.20,
	}
}

// SubScores are the four weighted components, each in [0, weight].
type SubScores struct {
	Time        float64 `json:"time"`
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency"`
	Volume      float64 `json:"volume"`
}

// Sum returns the unclamped total.
func (s SubScores) Sum() float64 {
	return s.Time + s.Accuracy + s.Consistency + s.Volume
}

// RankCalculationResult is the outcome of scoring one user.
type RankCalculationResult struct {
	UserID      string `json:"user_id"`
	CurrentRank RankID `json:"current_rank"`
	// TargetRank is the tier whose criteria were scored: the next tier, or
	// the current one at the top.
	TargetRank RankID  `json:"target_rank"`
	NextRank   *RankID `json:"next_rank,omitempty"`

	SubScores          SubScores `json:"sub_scores"`
	Percentage         float64   `json:"percentage"`
	AccuracyRate       float64   `json:"accuracy_rate"`
	TenureDays         int       `json:"tenure_days"`
	EligibleForUpgrade bool      `json:"eligible_for_upgrade"`
	Blockers           []string  `json:"blockers"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// ScoreCalculator turns UserStats into a RankCalculationResult. It performs
// no I/O and reads the time only from its argument.
type ScoreCalculator struct {
	catalog *Catalog
	policy  ScoringPolicy
}

// NewScoreCalculator creates a calculator over catalog.
func NewScoreCalculator(catalog *Catalog, policy ScoringPolicy) *ScoreCalculator {
	return &ScoreCalculator{catalog: catalog, policy: policy}
}

// Catalog returns the tier catalog.
func (c *ScoreCalculator) Catalog() *Catalog { return c.catalog }

// Compute scores stats against the tier above the user's current one.
func (c *ScoreCalculator) Compute(stats *UserStats, now time.Time) (RankCalculationResult, error) {
	current, ok := c.catalog.Get(stats.CurrentRank)
	if !ok {
		return RankCalculationResult{}, shared.ValidationError("rank", "Compute", "user %s: unknown rank %q", stats.UserID, stats.CurrentRank)
	}

	target := current
	next, hasNext := c.catalog.Next(current.ID)
	if hasNext {
		target = next
	}

	sub, tenureDays := c.Score(stats, target, now)
	res := RankCalculationResult{
		UserID:       stats.UserID,
		CurrentRank:  current.ID,
		TargetRank:   target.ID,
		SubScores:    sub,
		Percentage:   roundPercentage(sub.Sum()),
		AccuracyRate: roundPercentage(stats.AccuracyRate()),
		TenureDays:   tenureDays,
		Blockers:     []string{},
		CalculatedAt: now,
	}

	if !hasNext {
		return res, nil
	}

	id := next.ID
	res.NextRank = &id
	res.Blockers = Blockers(stats, next, tenureDays)
	res.EligibleForUpgrade = res.Percentage >= 100 && len(res.Blockers) == 0
	return res, nil
}

// Score computes the four sub-scores of stats against target and returns
// them with the whole tenure days used for the time component.
func (c *ScoreCalculator) Score(stats *UserStats, target RankConfig, now time.Time) (SubScores, int) {
	cr := target.Criteria
	tenureDays := timeutil.WholeDaysBetween(stats.RankStart(), now)

	return SubScores{
		Time:        c.timeScore(tenureDays, target.MinTimeGateDays, cr.TimeWeight),
		Accuracy:    c.accuracyScore(stats, cr),
		Consistency: c.consistencyScore(stats, cr),
		Volume:      c.volumeScore(stats, cr),
	}, tenureDays
}

func (c *ScoreCalculator) timeScore(tenureDays, gateDays, weight int) float64 {
	w := float64(weight)
	if gateDays <= 0 {
		return w
	}
	return w * ratio(float64(tenureDays), float64(gateDays))
}

func (c *ScoreCalculator) accuracyScore(stats *UserStats, cr RankCriteria) float64 {
	w := float64(cr.AccuracyWeight)
	if stats.TotalResolvedPredictions < cr.MinResolvedPredictions {
		return 0
	}
	if stats.TotalResolvedPredictions == 0 {
		// Nothing resolved yet and the tier asks for nothing: there is no
		// rate to reward.
		if cr.MinAccuracy > 0 {
			return 0
		}
		return w
	}
	if cr.MinAccuracy <= 0 {
		return w
	}

	baseline := cr.MinAccuracy * c.policy.AccuracyBaselineRatio
	span := cr.MinAccuracy - baseline
	if span <= 0 {
		if stats.AccuracyRate() >= cr.MinAccuracy {
			return w
		}
		return 0
	}
	return w * clamp01((stats.AccuracyRate()-baseline)/span)
}

func (c *ScoreCalculator) consistencyScore(stats *UserStats, cr RankCriteria) float64 {
	w := float64(cr.ConsistencyWeight)

	score := w
	if cr.MinActiveWeeks > 0 {
		score = w * ratio(float64(stats.WeeklyActivityCount), float64(cr.MinActiveWeeks))
	}

	if over := stats.InactivityStreaks - c.policy.InactivityStreakThreshold; over > 0 {
		score -= w * c.policy.InactivityPenaltyRate * float64(over)
	}
	return math.Max(0, score)
}

func (c *ScoreCalculator) volumeScore(stats *UserStats, cr RankCriteria) float64 {
	w := float64(cr.VolumeWeight)
	if cr.MinPredictions <= 0 {
		return w
	}

	bonus := math.Min(c.policy.ContrarianBonusCap, c.policy.ContrarianBonusPerWin*float64(stats.ContrarianWinsCount))
	base := float64(stats.TotalPredictions) / float64(cr.MinPredictions)
	return w * clamp01(base*(1+bonus))
}

// Blockers lists every hard gate of target that stats fails.
func Blockers(stats *UserStats, target RankConfig, tenureDays int) []string {
	cr := target.Criteria
	blockers := []string{}

	if stats.TotalPredictions < cr.MinPredictions {
		blockers = append(blockers, BlockerInsufficientPredictions)
	}
	if stats.TotalResolvedPredictions < cr.MinResolvedPredictions {
		blockers = append(blockers, BlockerInsufficientResolved)
	}
	if tenureDays < target.MinTimeGateDays {
		blockers = append(blockers, BlockerTenureGate)
	}
	if stats.WeeklyActivityCount < cr.MinActiveWeeks {
		blockers = append(blockers, BlockerInsufficientWeeks)
	}
	return blockers
}

func ratio(v, of float64) float64 {
	if of <= 0 {
		return 1
	}
	return clamp01(v / of)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// roundPercentage rounds half away from zero to two decimals and clamps to [0,100].
func roundPercentage(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
