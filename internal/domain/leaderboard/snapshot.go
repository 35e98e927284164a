package leaderboard

import (
	"time"

	"github.com/truthrank/truthrank/internal/domain/rank"
)

// Snapshot is the full leaderboard of one tier at a point in time. It is
// never patched in place; a refresh builds and stores a new one.
type Snapshot struct {
	Rank          rank.RankID   `json:"rank"`
	Entries       []Entry       `json:"entries"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
	TTL           time.Duration `json:"ttl"`

	// Candidates is how many users held the tier when the snapshot was built.
	Candidates int `json:"candidates"`
}

// NewSnapshot orders ranking into a snapshot of at most topN entries.
func NewSnapshot(tier rank.RankID, ranking *Ranking, topN int, at time.Time, ttl time.Duration) *Snapshot {
	if ranking == nil {
		ranking = NewRanking()
	}
	return &Snapshot{
		Rank:          tier,
		Entries:       ranking.Ordered(topN),
		LastUpdatedAt: at,
		TTL:           ttl,
		Candidates:    ranking.Count(),
	}
}

// NewEmptySnapshot returns a snapshot with no entries.
func NewEmptySnapshot(tier rank.RankID, at time.Time, ttl time.Duration) *Snapshot {
	return NewSnapshot(tier, nil, 0, at, ttl)
}

// IsExpired reports whether more than TTL has passed since the snapshot was
// built. A zero TTL never expires.
func (s *Snapshot) IsExpired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.Sub(s.LastUpdatedAt) > s.TTL
}

// IsEmpty returns true when the tier had no users.
func (s *Snapshot) IsEmpty() bool { return len(s.Entries) == 0 }

// Top returns a copy of the first n entries.
func (s *Snapshot) Top(n int) []Entry {
	if n <= 0 || n > len(s.Entries) {
		n = len(s.Entries)
	}
	out := make([]Entry, n)
	copy(out, s.Entries[:n])
	return out
}

// Position returns the user's 1-based position, or 0 when absent.
func (s *Snapshot) Position(userID string) int {
	for _, e := range s.Entries {
		if e.UserID == userID {
			return e.Position
		}
	}
	return 0
}
