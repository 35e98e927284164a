package leaderboard

import (
	"context"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
)

// Domain errors.
var (
	ErrSnapshotNotFound = shared.NewDomainError("leaderboard", "Load", shared.ErrNotFound, "snapshot not found")
	ErrEmptyUserID      = shared.NewDomainError("leaderboard", "Add", shared.ErrValidation, "entry has empty user id")
	ErrDuplicateUser    = shared.NewDomainError("leaderboard", "Add", shared.ErrValidation, "user already ranked")
)

// SnapshotStore holds the latest snapshot per tier. Save replaces the
// previous snapshot as a whole; readers see either the old or the new one.
type SnapshotStore interface {
	// Load returns ErrSnapshotNotFound when the tier has no snapshot.
	Load(ctx context.Context, tier rank.RankID) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
	Delete(ctx context.Context, tier rank.RankID) error
}
