// Package leaderboard holds the per-tier leaderboard read model: ranked
// entries built from user stats and the snapshot that carries them.
package leaderboard

import (
	"fmt"
	"sort"

	"github.com/truthrank/truthrank/internal/domain/rank"
)

// DefaultTopN is the snapshot size when none is configured.
const DefaultTopN = 100

// Entry is one ranked row of a tier leaderboard.
type Entry struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name,omitempty"`
	Percentage  float64 `json:"percentage"`
	Accuracy    float64 `json:"accuracy"`
	Volume      int     `json:"volume"`

	// Position is 1-based and unique within a snapshot.
	Position int `json:"position"`
}

// NewEntry projects a user's stats into an unpositioned entry.
func NewEntry(s *rank.UserStats) Entry {
	return Entry{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Percentage:  s.RankPercentage,
		Accuracy:    s.AccuracyRate(),
		Volume:      s.TotalPredictions,
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Position: %d, User: %s, Percentage: %.2f, Volume: %d}",
		e.Position, e.UserID, e.Percentage, e.Volume)
}

// Ranking accumulates entries before they are ordered.
type Ranking struct {
	entries []Entry
	seen    map[string]struct{}
}

// NewRanking creates an empty Ranking.
func NewRanking() *Ranking {
	return &Ranking{seen: make(map[string]struct{})}
}

// Add appends an entry. A user already present is rejected.
func (r *Ranking) Add(e Entry) error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if _, ok := r.seen[e.UserID]; ok {
		return ErrDuplicateUser
	}
	r.seen[e.UserID] = struct{}{}
	r.entries = append(r.entries, e)
	return nil
}

// Count returns the number of entries added so far.
func (r *Ranking) Count() int { return len(r.entries) }

// Ordered sorts by percentage desc, then volume desc, then user id asc,
// keeps the first topN and assigns 1-based positions. topN <= 0 keeps all.
func (r *Ranking) Ordered(topN int) []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].UserID < out[j].UserID
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}
