package rank

import (
	"context"
	"errors"
	"time"

	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/retry"
)

// ErrNoChange can be returned by a Mutation to skip the write.
var ErrNoChange = errors.New("no change")

// Mutation edits a fresh copy of a user's stats. Returning ErrNoChange skips
// the write; any other error aborts without writing.
type Mutation func(stats *UserStats) error

// Updater performs atomic read-modify-write cycles on single users. On a
// version conflict the mutation is re-applied to the latest stored record.
type Updater struct {
	repo       Repository
	catalog    *Catalog
	retrier    *retry.Retrier
	onConflict func()

	maxAttempts int
}

// NewUpdater creates an Updater retrying conflicts up to maxAttempts times.
func NewUpdater(repo Repository, catalog *Catalog, maxAttempts int, onConflict func()) *Updater {
	if onConflict == nil {
		onConflict = func() {}
	}
	return &Updater{
		repo:       repo,
		catalog:    catalog,
		retrier:    retry.ConflictRetrier(maxAttempts, shared.IsRetryable),
		onConflict: onConflict,

		maxAttempts: maxAttempts,
	}
}

// WithRetryHook sets a callback run before each conflict retry.
func (u *Updater) WithRetryHook(fn func(attempt int, err error, delay time.Duration)) *Updater {
	u.retrier = retry.ConflictRetrier(u.maxAttempts, shared.IsRetryable, retry.WithOnRetry(fn))
	return u
}

// Repository returns the underlying store.
func (u *Updater) Repository() Repository { return u.repo }

// Update loads userID, applies fn to a clone and persists the clone if fn
// changed it. The returned stats are the persisted (or unchanged) record and
// written reports whether a write happened.
func (u *Updater) Update(ctx context.Context, userID string, fn Mutation) (stats *UserStats, written bool, err error) {
	err = u.retrier.Do(ctx, func(ctx context.Context) error {
		current, err := u.repo.Get(ctx, userID)
		if err != nil {
			return err
		}
		if err := current.Validate(u.catalog); err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				stats, written = current, false
				return nil
			}
			return err
		}
		if err := next.Validate(u.catalog); err != nil {
			return err
		}

		if err := u.repo.Update(ctx, next); err != nil {
			if shared.IsConflict(err) {
				u.onConflict()
			}
			return err
		}
		stats, written = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stats, written, nil
}

// Upsert behaves like Update but creates the record with create when it does
// not exist yet. Losing a create race to another writer is fine: the
// mutation then runs against the winner's record.
func (u *Updater) Upsert(ctx context.Context, userID string, create func() *UserStats, fn Mutation) (*UserStats, bool, error) {
	_, err := u.repo.Get(ctx, userID)
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		fresh := create()
		if err := fresh.Validate(u.catalog); err != nil {
			return nil, false, err
		}
		if err := u.repo.Create(ctx, fresh); err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
			return nil, false, err
		}
	default:
		return nil, false, err
	}
	return u.Update(ctx, userID, fn)
}
