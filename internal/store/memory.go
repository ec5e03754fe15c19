package store

import (
	"context"
	"sort"
	"sync"

	"github.com/creatureboring/accounting-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	positions   map[string]*model.Position
	snapshots   map[string][]model.PositionSnapshot // by position id
	snapshotIDs map[string]struct{}
	assets      map[string]*model.Asset
	stakes      map[string]*model.StakeRecord
	rewards     map[string]*model.RewardState
	stakingLog  map[string][]model.StakingLogEntry // by account
	logIDs      map[string]struct{}
	checkpoints map[int64]*model.Checkpoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:   make(map[string]*model.Position),
		snapshots:   make(map[string][]model.PositionSnapshot),
		snapshotIDs: make(map[string]struct{}),
		assets:      make(map[string]*model.Asset),
		stakes:      make(map[string]*model.StakeRecord),
		rewards:     make(map[string]*model.RewardState),
		stakingLog:  make(map[string][]model.StakingLogEntry),
		logIDs:      make(map[string]struct{}),
		checkpoints: make(map[int64]*model.Checkpoint),
	}
}

func (s *MemoryStore) GetPosition(_ context.Context, assetID, account string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[model.PositionID(assetID, account)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPositionSnapshots(_ context.Context, assetID, account string) ([]model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.snapshots[model.PositionID(assetID, account)]
	out := make([]model.PositionSnapshot, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetStakeRecord(_ context.Context, unitID string) (*model.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.stakes[unitID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListStakeRecordsByOwner(_ context.Context, owner string) ([]model.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StakeRecord
	for _, r := range s.stakes {
		if r.Owner == owner {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StakeStartTime != result[j].StakeStartTime {
			return result[i].StakeStartTime < result[j].StakeStartTime
		}
		return result[i].UnitID < result[j].UnitID
	})
	return result, nil
}

func (s *MemoryStore) GetRewardState(_ context.Context, account string) (*model.RewardState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rewards[account]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListStakingLog(_ context.Context, account string) ([]model.StakingLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.stakingLog[account]
	out := make([]model.StakingLogEntry, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, chainID int64) (*model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checkpoints[chainID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// Commit applies the change set under a single write lock. Snapshots and
// log entries are insert-only; a repeated id is ignored.
func (s *MemoryStore) Commit(_ context.Context, cs *model.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range cs.Positions {
		p := p
		s.positions[p.ID] = &p
	}
	for _, snap := range cs.Snapshots {
		if _, dup := s.snapshotIDs[snap.ID]; dup {
			continue
		}
		s.snapshotIDs[snap.ID] = struct{}{}
		key := model.PositionID(snap.AssetID, snap.Account)
		s.snapshots[key] = append(s.snapshots[key], snap)
	}
	for _, a := range cs.Assets {
		a := a
		s.assets[a.ID] = &a
	}
	for _, id := range cs.DeletedStakeRecords {
		delete(s.stakes, id)
	}
	for _, r := range cs.StakeRecords {
		r := r
		s.stakes[r.UnitID] = &r
	}
	for _, r := range cs.RewardStates {
		r := r
		s.rewards[r.AccountID] = &r
	}
	for _, e := range cs.StakingLog {
		if _, dup := s.logIDs[e.ID]; dup {
			continue
		}
		s.logIDs[e.ID] = struct{}{}
		entries := append(s.stakingLog[e.AccountID], e)
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].BlockNumber != entries[j].BlockNumber {
				return entries[i].BlockNumber < entries[j].BlockNumber
			}
			return entries[i].LogIndex < entries[j].LogIndex
		})
		s.stakingLog[e.AccountID] = entries
	}
	if cs.Checkpoint != nil {
		c := *cs.Checkpoint
		s.checkpoints[c.ChainID] = &c
	}
	return nil
}
