package rank

import (
	"sort"
	"time"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

// PredictionResolutionData describes one resolved prediction from a single
// user's point of view. It is consumed once and not stored.
type PredictionResolutionData struct {
	PredictionID     string    `json:"prediction_id"`
	Outcome          string    `json:"outcome"`
	UserVote         *string   `json:"user_vote,omitempty"`
	TotalVotes       int       `json:"total_votes"`
	MajorityVote     string    `json:"majority_vote"`
	DifficultyWeight float64   `json:"difficulty_weight"`
	IsCorrect        bool      `json:"is_correct"`
	IsContrarian     bool      `json:"is_contrarian"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

// NewPredictionResolution derives the resolution record from the final vote
// distribution (option → vote count).
func NewPredictionResolution(predictionID, outcome string, userVote *string, distribution map[string]int, resolvedAt time.Time) PredictionResolutionData {
	total, majority, majorityVotes, options := tally(distribution)

	res := PredictionResolutionData{
		PredictionID:     predictionID,
		Outcome:          outcome,
		UserVote:         userVote,
		TotalVotes:       total,
		MajorityVote:     majority,
		DifficultyWeight: DifficultyWeight(total, majorityVotes, options),
		ResolvedAt:       resolvedAt,
	}
	if userVote != nil && *userVote == outcome {
		res.IsCorrect = true
		res.IsContrarian = *userVote != majority
	}
	return res
}

// tally returns the total, the majority option (ties go to the
// lexicographically smallest option), its vote count and the number of
// options that received votes.
func tally(distribution map[string]int) (total int, majority string, majorityVotes int, options int) {
	keys := make([]string, 0, len(distribution))
	for k, v := range distribution {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := distribution[k]
		total += v
		if v > majorityVotes {
			majority, majorityVotes = k, v
		}
	}
	return total, majority, majorityVotes, len(keys)
}

// DifficultyWeight maps vote skew to [0,1]: an even split across the voted
// options is 1, unanimity is 0.
func DifficultyWeight(total, majorityVotes, options int) float64 {
	if total <= 0 || options < 2 {
		return 0
	}
	even := 1 / float64(options)
	share := float64(majorityVotes) / float64(total)
	w := 1 - (share-even)/(1-even)
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

// Validate checks internal consistency.
func (r PredictionResolutionData) Validate() error {
	const op = "ValidateResolution"

	if r.DifficultyWeight < 0 || r.DifficultyWeight > 1 {
		return shared.ValidationError("rank", op, "difficulty weight %.3f out of [0,1]", r.DifficultyWeight)
	}
	if r.TotalVotes < 0 {
		return shared.ValidationError("rank", op, "total votes negative")
	}
	if r.IsCorrect && (r.UserVote == nil || *r.UserVote != r.Outcome) {
		return shared.ValidationError("rank", op, "prediction %s marked correct but vote does not match outcome", r.PredictionID)
	}
	if r.IsContrarian && !r.IsCorrect {
		return shared.ValidationError("rank", op, "prediction %s marked contrarian but not correct", r.PredictionID)
	}
	return nil
}
