package rank

import (
	"time"

	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// RankUpgradeHistoryEntry records one promotion. Entries are never changed
// after they are appended.
type RankUpgradeHistoryEntry struct {
	Rank                RankID    `json:"rank"`
	UpgradedAt          time.Time `json:"upgraded_at"`
	PercentageAtUpgrade float64   `json:"percentage_at_upgrade"`
	DaysInPreviousRank  int       `json:"days_in_previous_rank"`
}

// UserStats is the engine-owned record for one user.
type UserStats struct {
	UserID      string
	DisplayName string

	TenureStart          time.Time
	CurrentRank          RankID
	RankPercentage       float64
	CurrentRankStartDate time.Time

	// LastRecalculationAt tracks interactive recalculations only. Zero means never.
	LastRecalculationAt    time.Time
	LastActiveAt           time.Time
	LastDormancyDetectedAt time.Time

	UpgradeHistory []RankUpgradeHistoryEntry

	TotalPredictions         int
	TotalResolvedPredictions int
	CorrectPredictions       int
	ContrarianWinsCount      int
	WeeklyActivityCount      int
	InactivityStreaks        int
	DifficultyPoints         float64

	// Version is the optimistic concurrency token, managed by the store.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserStats creates a record in the entry tier.
func NewUserStats(userID, displayName string, entry RankID, at time.Time) *UserStats {
	return &UserStats{
		UserID:               userID,
		DisplayName:          displayName,
		TenureStart:          at,
		CurrentRank:          entry,
		CurrentRankStartDate: at,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
}

// Clone returns a deep copy.
func (s *UserStats) Clone() *UserStats {
	c := *s
	if s.UpgradeHistory != nil {
		c.UpgradeHistory = make([]RankUpgradeHistoryEntry, len(s.UpgradeHistory))
		copy(c.UpgradeHistory, s.UpgradeHistory)
	}
	return &c
}

// Validate checks the record's invariants against catalog.
func (s *UserStats) Validate(catalog *Catalog) error {
	const op = "Validate"

	if s.UserID == "" {
		return shared.ValidationError("rank", op, "user id is empty")
	}
	if !catalog.Contains(s.CurrentRank) {
		return shared.ValidationError("rank", op, "user %s: unknown rank %q", s.UserID, s.CurrentRank)
	}

	counters := []struct {
		name  string
		value int
	}{
		{"totalPredictions", s.TotalPredictions},
		{"totalResolvedPredictions", s.TotalResolvedPredictions},
		{"correctPredictions", s.CorrectPredictions},
		{"contrarianWinsCount", s.ContrarianWinsCount},
		{"weeklyActivityCount", s.WeeklyActivityCount},
		{"inactivityStreaks", s.InactivityStreaks},
	}
	for _, c := range counters {
		if c.value < 0 {
			return shared.ValidationError("rank", op, "user %s: %s is negative (%d)", s.UserID, c.name, c.value)
		}
	}

	if s.CorrectPredictions > s.TotalResolvedPredictions {
		return shared.ValidationError("rank", op, "user %s: correct %d exceeds resolved %d",
			s.UserID, s.CorrectPredictions, s.TotalResolvedPredictions)
	}
	if s.TotalResolvedPredictions > s.TotalPredictions {
		return shared.ValidationError("rank", op, "user %s: resolved %d exceeds total %d",
			s.UserID, s.TotalResolvedPredictions, s.TotalPredictions)
	}
	if s.ContrarianWinsCount > s.CorrectPredictions {
		return shared.ValidationError("rank", op, "user %s: contrarian wins %d exceed correct %d",
			s.UserID, s.ContrarianWinsCount, s.CorrectPredictions)
	}
	if s.DifficultyPoints < 0 {
		return shared.ValidationError("rank", op, "user %s: difficulty points negative", s.UserID)
	}
	if s.RankPercentage < 0 || s.RankPercentage > 100 {
		return shared.ValidationError("rank", op, "user %s: percentage %.2f out of [0,100]", s.UserID, s.RankPercentage)
	}

	prev := -1
	for _, h := range s.UpgradeHistory {
		i := catalog.Index(h.Rank)
		if i <= prev {
			return shared.ValidationError("rank", op, "user %s: upgrade history is not strictly ascending", s.UserID)
		}
		prev = i
	}
	if prev > catalog.Index(s.CurrentRank) {
		return shared.ValidationError("rank", op, "user %s: history ranks above current rank", s.UserID)
	}
	return nil
}

// AccuracyRate returns correct/resolved as a percentage, 0 when nothing resolved.
func (s *UserStats) AccuracyRate() float64 {
	if s.TotalResolvedPredictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.TotalResolvedPredictions) * 100
}

// RankStart is the reference point for time-in-tier.
func (s *UserStats) RankStart() time.Time {
	if !s.CurrentRankStartDate.IsZero() {
		return s.CurrentRankStartDate
	}
	return s.TenureStart
}

// LastActivity returns the last recorded activity, falling back to tenure start
// for users who never acted.
func (s *UserStats) LastActivity() time.Time {
	if !s.LastActiveAt.IsZero() {
		return s.LastActiveAt
	}
	return s.TenureStart
}

// RecordPrediction counts a prediction placed at at. The weekly activity
// counter moves once per calendar week with activity.
func (s *UserStats) RecordPrediction(at time.Time) {
	s.TotalPredictions++

	last := s.LastActiveAt
	if last.IsZero() || timeutil.StartOfWeek(at).After(timeutil.StartOfWeek(last)) {
		s.WeeklyActivityCount++
	}
	if at.After(last) {
		s.LastActiveAt = at
	}
}

// ApplyResolution folds a resolved prediction into the counters. It returns
// false without changes when the user did not vote.
func (s *UserStats) ApplyResolution(res PredictionResolutionData) (bool, error) {
	if err := res.Validate(); err != nil {
		return false, err
	}
	if res.UserVote == nil {
		return false, nil
	}
	if s.TotalResolvedPredictions+1 > s.TotalPredictions {
		return false, shared.ValidationError("rank", "ApplyResolution",
			"user %s: resolution %s without a matching prediction", s.UserID, res.PredictionID)
	}

	s.TotalResolvedPredictions++
	if res.IsCorrect {
		s.CorrectPredictions++
		s.DifficultyPoints += res.DifficultyWeight
	}
	if res.IsContrarian {
		s.ContrarianWinsCount++
	}
	return true, nil
}

// IsDormant reports whether the user has been inactive longer than threshold.
func (s *UserStats) IsDormant(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActivity()) > threshold
}

// DormancyFlagged reports whether the current dormancy period was already
// counted. A period ends with the next recorded activity.
func (s *UserStats) DormancyFlagged() bool {
	return !s.LastDormancyDetectedAt.IsZero() && !s.LastDormancyDetectedAt.Before(s.LastActivity())
}

// MarkDormant counts a newly detected dormancy period. It is a no-op when
// the period was already counted.
func (s *UserStats) MarkDormant(now time.Time) bool {
	if s.DormancyFlagged() {
		return false
	}
	s.InactivityStreaks++
	s.LastDormancyDetectedAt = now
	return true
}
