package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/truthrank/truthrank/internal/domain/leaderboard"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// Cache lookup labels.
const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupStale = "stale"
)

// LeaderboardCacheConfig configures the leaderboard read-through cache.
type LeaderboardCacheConfig struct {
	// TTL is how long a snapshot is served before a read rebuilds it.
	TTL time.Duration

	// TopN caps the entries kept per tier.
	TopN int

	// PageSize is the scan page used while rebuilding.
	PageSize int

	// RefreshTimeout bounds one rebuild regardless of who is waiting on it.
	RefreshTimeout time.Duration
}

// DefaultLeaderboardCacheConfig returns the production defaults.
func DefaultLeaderboardCacheConfig() LeaderboardCacheConfig {
	return LeaderboardCacheConfig{
		TTL:            5 * time.Minute,
		TopN:           leaderboard.DefaultTopN,
		PageSize:       500,
		RefreshTimeout: 30 * time.Second,
	}
}

// LeaderboardCache serves per-tier leaderboards from a SnapshotStore and
// rebuilds them from the user store on miss or expiry. Concurrent rebuilds
// of one tier share a single computation.
type LeaderboardCache struct {
	repo    rank.Repository
	store   leaderboard.SnapshotStore
	catalog *rank.Catalog
	config  LeaderboardCacheConfig
	metrics *metrics.Metrics
	clock   timeutil.Clock
	logger  zerolog.Logger

	inflight singleflight.Group
}

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(
	repo rank.Repository,
	store leaderboard.SnapshotStore,
	catalog *rank.Catalog,
	config LeaderboardCacheConfig,
	m *metrics.Metrics,
	clock timeutil.Clock,
	logger zerolog.Logger,
) *LeaderboardCache {
	defaults := DefaultLeaderboardCacheConfig()
	if config.TopN <= 0 {
		config.TopN = defaults.TopN
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = defaults.RefreshTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LeaderboardCache{
		repo:    repo,
		store:   store,
		catalog: catalog,
		config:  config,
		metrics: m,
		clock:   clock,
		logger:  logger.With().Str("component", "leaderboard_cache").Logger(),
	}
}

// Get returns the ordered entries of tier.
func (c *LeaderboardCache) Get(ctx context.Context, tier rank.RankID) ([]leaderboard.Entry, error) {
	snap, err := c.Snapshot(ctx, tier)
	if err != nil {
		return nil, err
	}
	return snap.Top(0), nil
}

// Snapshot returns a snapshot of tier that is no older than the TTL.
func (c *LeaderboardCache) Snapshot(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, error) {
	if err := c.checkRank(tier); err != nil {
		return nil, err
	}

	snap, fresh := c.lookup(ctx, tier)
	switch {
	case fresh:
		c.metrics.RecordCacheLookup(tier.String(), lookupHit)
		return snap, nil
	case snap == nil:
		c.metrics.RecordCacheLookup(tier.String(), lookupMiss)
	default:
		c.metrics.RecordCacheLookup(tier.String(), lookupStale)
	}
	return c.rebuild(ctx, tier, false)
}

// Refresh rebuilds tier unconditionally.
func (c *LeaderboardCache) Refresh(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, error) {
	if err := c.checkRank(tier); err != nil {
		return nil, err
	}
	return c.rebuild(ctx, tier, true)
}

// RefreshAll rebuilds every tier and reports the failures together.
func (c *LeaderboardCache) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, tier := range c.catalog.Tiers() {
		if _, err := c.Refresh(ctx, tier.ID); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", tier.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Invalidate drops the stored snapshot so that the next read rebuilds it.
func (c *LeaderboardCache) Invalidate(ctx context.Context, tier rank.RankID) error {
	if err := c.checkRank(tier); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, tier); err != nil {
		return fmt.Errorf("invalidate %s: %w", tier, err)
	}
	c.logger.Debug().Str("rank", tier.String()).Msg("leaderboard invalidated")
	return nil
}

func (c *LeaderboardCache) checkRank(tier rank.RankID) error {
	if !c.catalog.Contains(tier) {
		return shared.WrapError("leaderboard", "Get", shared.ErrValidation, fmt.Sprintf("rank %q", tier), shared.ErrUnknownRank)
	}
	return nil
}

// lookup returns the stored snapshot and whether it is still fresh. Store
// failures are treated as a miss.
func (c *LeaderboardCache) lookup(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, bool) {
	snap, err := c.store.Load(ctx, tier)
	if err != nil {
		if !errors.Is(err, leaderboard.ErrSnapshotNotFound) {
			c.logger.Warn().Err(err).Str("rank", tier.String()).Msg("snapshot load failed")
		}
		return nil, false
	}
	return snap, !snap.IsExpired(c.clock.Now())
}

// rebuild runs at most one computation per tier at a time. The computation
// is detached from the caller, so a caller giving up does not abort the
// rebuild other readers are waiting on.
func (c *LeaderboardCache) rebuild(ctx context.Context, tier rank.RankID, force bool) (*leaderboard.Snapshot, error) {
	ch := c.inflight.DoChan(tier.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.RefreshTimeout)
		defer cancel()

		if !force {
			// Another flight may have finished between our lookup and now.
			if snap, fresh := c.lookup(rctx, tier); fresh {
				return snap, nil
			}
		}
		return c.compute(rctx, tier)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*leaderboard.Snapshot), nil
	}
}

func (c *LeaderboardCache) compute(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, error) {
	start := time.Now()
	ranking := leaderboard.NewRanking()
	filter := rank.ScanFilter{Rank: tier}

	cursor := ""
	for {
		page, err := c.repo.Scan(ctx, filter, cursor, c.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", tier, err)
		}
		for _, s := range page.Items {
			if err := ranking.Add(leaderboard.NewEntry(s)); err != nil {
				return nil, fmt.Errorf("rank %s: %w", s.UserID, err)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	snap := leaderboard.NewSnapshot(tier, ranking, c.config.TopN, c.clock.Now(), c.config.TTL)
	if err := c.store.Save(ctx, snap); err != nil {
		// Serve what we built; the next read will try again.
		c.logger.Warn().Err(err).Str("rank", tier.String()).Msg("snapshot save failed")
	}

	elapsed := time.Since(start)
	c.metrics.RecordCacheRefresh(tier.String(), elapsed)
	c.logger.Debug().
		Str("rank", tier.String()).
		Int("candidates", snap.Candidates).
		Int("entries", len(snap.Entries)).
		Dur("duration", elapsed).
		Msg("leaderboard rebuilt")
	return snap, nil
}

// GetLeaderboardQuery asks for the top of one tier.
type GetLeaderboardQuery struct {
	Rank rank.RankID

	// Limit caps the returned entries; 0 returns the whole snapshot.
	Limit int
}

// Validate validates the query.
func (q GetLeaderboardQuery) Validate() error {
	if q.Rank == "" {
		return shared.ValidationError("query", "GetLeaderboard", "rank is required")
	}
	if q.Limit < 0 {
		return shared.ValidationError("query", "GetLeaderboard", "limit cannot be negative")
	}
	return nil
}

// LeaderboardResult is the response of GetLeaderboardQuery.
type LeaderboardResult struct {
	Rank          rank.RankID         `json:"rank"`
	Entries       []leaderboard.Entry `json:"entries"`
	Candidates    int                 `json:"candidates"`
	LastUpdatedAt time.Time           `json:"last_updated_at"`
}

// GetLeaderboardHandler handles the GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	cache *LeaderboardCache
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
func NewGetLeaderboardHandler(cache *LeaderboardCache) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{cache: cache}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	snap, err := h.cache.Snapshot(ctx, q.Rank)
	if err != nil {
		return nil, err
	}
	return &LeaderboardResult{
		Rank:          snap.Rank,
		Entries:       snap.Top(q.Limit),
		Candidates:    snap.Candidates,
		LastUpdatedAt: snap.LastUpdatedAt,
	}, nil
}
