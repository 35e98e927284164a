package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/truthrank/truthrank/internal/domain/leaderboard"
	"github.com/truthrank/truthrank/internal/domain/rank"
)

// ErrSnapshotCorrupt is returned when the stored parts of a snapshot disagree.
var ErrSnapshotCorrupt = errors.New("leaderboard_store: snapshot parts out of sync")

// LeaderboardStore is a leaderboard.SnapshotStore on Redis.
//
// Layout per tier:
//   - Sorted Set "leaderboard:pos:{tier}" stores userID -> position
//   - Hash "leaderboard:info:{tier}" stores userID -> Entry JSON
//   - String "leaderboard:meta:{tier}" stores build time, ttl and size
//
// All three keys are replaced in one MULTI/EXEC and read back in another, so
// a reader never observes a mix of two snapshots.
type LeaderboardStore struct {
	cache     *Cache
	retention time.Duration
}

type snapshotMeta struct {
	Rank          rank.RankID   `json:"rank"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
	TTL           time.Duration `json:"ttl"`
	Candidates    int           `json:"candidates"`
	Size          int           `json:"size"`
}

// NewLeaderboardStore creates a store. Keys expire after retention; zero
// keeps them until replaced or deleted.
func NewLeaderboardStore(cache *Cache, retention time.Duration) *LeaderboardStore {
	return &LeaderboardStore{cache: cache, retention: retention}
}

func (l *LeaderboardStore) keys(tier rank.RankID) (pos, info, meta string) {
	t := tier.String()
	return l.cache.Key("leaderboard", "pos", t),
		l.cache.Key("leaderboard", "info", t),
		l.cache.Key("leaderboard", "meta", t)
}

// Save implements leaderboard.SnapshotStore.
func (l *LeaderboardStore) Save(ctx context.Context, snap *leaderboard.Snapshot) error {
	posKey, infoKey, metaKey := l.keys(snap.Rank)

	members := make([]redis.Z, 0, len(snap.Entries))
	info := make(map[string]any, len(snap.Entries))
	for _, e := range snap.Entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		members = append(members, redis.Z{Score: float64(e.Position), Member: e.UserID})
		info[e.UserID] = data
	}

	meta, err := json.Marshal(snapshotMeta{
		Rank:          snap.Rank,
		LastUpdatedAt: snap.LastUpdatedAt,
		TTL:           snap.TTL,
		Candidates:    snap.Candidates,
		Size:          len(snap.Entries),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, posKey, infoKey, metaKey)
	if len(members) > 0 {
		pipe.ZAdd(ctx, posKey, members...)
		pipe.HSet(ctx, infoKey, info)
		if l.retention > 0 {
			pipe.Expire(ctx, posKey, l.retention)
			pipe.Expire(ctx, infoKey, l.retention)
		}
	}
	pipe.Set(ctx, metaKey, meta, l.retention)

	_, err = pipe.Exec(ctx)
	return err
}

// Load implements leaderboard.SnapshotStore.
func (l *LeaderboardStore) Load(ctx context.Context, tier rank.RankID) (*leaderboard.Snapshot, error) {
	posKey, infoKey, metaKey := l.keys(tier)

	pipe := l.cache.Client().TxPipeline()
	metaCmd := pipe.Get(ctx, metaKey)
	idsCmd := pipe.ZRange(ctx, posKey, 0, -1)
	infoCmd := pipe.HGetAll(ctx, infoKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	raw, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, leaderboard.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	var meta snapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	ids := idsCmd.Val()
	details := infoCmd.Val()
	if len(ids) != meta.Size || len(details) != meta.Size {
		return nil, fmt.Errorf("%w: tier %s", ErrSnapshotCorrupt, tier)
	}

	entries := make([]leaderboard.Entry, 0, len(ids))
	for _, id := range ids {
		var e leaderboard.Entry
		if err := json.Unmarshal([]byte(details[id]), &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		entries = append(entries, e)
	}

	return &leaderboard.Snapshot{
		Rank:          tier,
		Entries:       entries,
		LastUpdatedAt: meta.LastUpdatedAt,
		TTL:           meta.TTL,
		Candidates:    meta.Candidates,
	}, nil
}

// Delete implements leaderboard.SnapshotStore.
func (l *LeaderboardStore) Delete(ctx context.Context, tier rank.RankID) error {
	posKey, infoKey, metaKey := l.keys(tier)
	return l.cache.Delete(ctx, posKey, infoKey, metaKey)
}
