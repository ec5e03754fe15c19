package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/creatureboring/accounting-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Commits go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Concurrent misses on the
// same key share one primary read.
//
// A reader that misses can refill a key with a row that a concurrent
// commit has just replaced, so cached reads may lag for up to the TTL.
// The ledger writer must read through Consistent instead.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Commit(ctx context.Context, cs *model.ChangeSet) error {
	if err := s.primary.Commit(ctx, cs); err != nil {
		return err
	}

	var keys []string
	for _, p := range cs.Positions {
		keys = append(keys, positionKey(p.ID))
	}
	for _, a := range cs.Assets {
		keys = append(keys, assetKey(a.ID))
	}
	for _, r := range cs.RewardStates {
		keys = append(keys, rewardKey(r.AccountID))
	}
	if len(keys) > 0 {
		// Next read will re-populate.
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("cache invalidation failed, entries expire with ttl",
				"keys", keys,
				"ttl", s.ttl,
				"err", err,
			)
		}
	}
	return nil
}

// Consistent returns a view that reads straight from the primary store and
// commits through s, so the cache is still invalidated on every write.
func (s *CachedStore) Consistent() Store {
	return primaryView{Store: s.primary, cache: s}
}

type primaryView struct {
	Store
	cache *CachedStore
}

func (v primaryView) Commit(ctx context.Context, cs *model.ChangeSet) error {
	return v.cache.Commit(ctx, cs)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, assetID, account string) (*model.Position, error) {
	return readThrough(ctx, s, positionKey(model.PositionID(assetID, account)), func() (*model.Position, error) {
		return s.primary.GetPosition(ctx, assetID, account)
	})
}

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return readThrough(ctx, s, assetKey(id), func() (*model.Asset, error) {
		return s.primary.GetAsset(ctx, id)
	})
}

func (s *CachedStore) GetRewardState(ctx context.Context, account string) (*model.RewardState, error) {
	return readThrough(ctx, s, rewardKey(account), func() (*model.RewardState, error) {
		return s.primary.GetRewardState(ctx, account)
	})
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositionSnapshots(ctx context.Context, assetID, account string) ([]model.PositionSnapshot, error) {
	return s.primary.ListPositionSnapshots(ctx, assetID, account)
}

func (s *CachedStore) GetStakeRecord(ctx context.Context, unitID string) (*model.StakeRecord, error) {
	return s.primary.GetStakeRecord(ctx, unitID)
}

func (s *CachedStore) ListStakeRecordsByOwner(ctx context.Context, owner string) ([]model.StakeRecord, error) {
	return s.primary.ListStakeRecordsByOwner(ctx, owner)
}

func (s *CachedStore) ListStakingLog(ctx context.Context, account string) ([]model.StakingLogEntry, error) {
	return s.primary.ListStakingLog(ctx, account)
}

func (s *CachedStore) GetCheckpoint(ctx context.Context, chainID int64) (*model.Checkpoint, error) {
	return s.primary.GetCheckpoint(ctx, chainID)
}

// --- Cache helpers ---

// readThrough serves key from Redis, or loads it from the primary and
// caches it. Callers always get their own copy.
func readThrough[T any](ctx context.Context, s *CachedStore, key string, fetch func() (*T, error)) (*T, error) {
	var cached T
	if s.load(ctx, key, &cached) {
		return &cached, nil
	}

	// Cache miss: read from primary.
	v, err, _ := s.group.Do(key, func() (any, error) {
		got, err := fetch()
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, got)
		return got, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*T)
	return &out, nil
}

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(id string) string    { return fmt.Sprintf("position:%s", id) }
func assetKey(id string) string       { return fmt.Sprintf("asset:%s", id) }
func rewardKey(account string) string { return fmt.Sprintf("reward:%s", account) }
