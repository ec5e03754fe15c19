package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatureboring/accounting-engine/internal/model"
)

const (
	asset = "0x00000000000000000000000000000000000000aa"
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetPosition(ctx, asset, alice)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAsset(ctx, asset)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStakeRecord(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRewardState(ctx, alice)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCheckpoint(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	snaps, err := s.ListPositionSnapshots(ctx, asset, alice)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMemoryStore_CommitPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos := model.Position{
		ID:      model.PositionID(asset, alice),
		AssetID: asset,
		Account: alice,
		Balance: decimal.NewFromInt(100),
	}
	snap := model.PositionSnapshot{
		ID:      model.SnapshotID("0xtx", 0, alice),
		AssetID: asset,
		Account: alice,
		Balance: decimal.NewFromInt(100),
	}
	cs := &model.ChangeSet{
		Positions:  []model.Position{pos},
		Snapshots:  []model.PositionSnapshot{snap, snap},
		Checkpoint: &model.Checkpoint{ChainID: 1, BlockNumber: 5, LogIndex: 0, UpdatedAt: time.Now()},
	}
	require.NoError(t, s.Commit(ctx, cs))

	got, err := s.GetPosition(ctx, asset, alice)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	// Returned values are copies.
	got.Balance = decimal.Zero
	again, _ := s.GetPosition(ctx, asset, alice)
	assert.True(t, again.Balance.Equal(decimal.NewFromInt(100)))

	snaps, err := s.ListPositionSnapshots(ctx, asset, alice)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "duplicate snapshot id must be ignored")

	cp, err := s.GetCheckpoint(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 5, cp.BlockNumber)
}

func TestMemoryStore_StakeLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, &model.ChangeSet{
		StakeRecords: []model.StakeRecord{
			{UnitID: "2", Owner: alice, StakeStartTime: 200},
			{UnitID: "1", Owner: alice, StakeStartTime: 100},
			{UnitID: "3", Owner: bob, StakeStartTime: 100},
		},
		StakingLog: []model.StakingLogEntry{
			{ID: model.StakingLogID(2, 0, "2"), AccountID: alice, Kind: model.KindStake, UnitID: "2", BlockNumber: 2},
			{ID: model.StakingLogID(1, 4, "1"), AccountID: alice, Kind: model.KindStake, UnitID: "1", BlockNumber: 1, LogIndex: 4},
			{ID: model.StakingLogID(1, 5, "3"), AccountID: bob, Kind: model.KindStake, UnitID: "3", BlockNumber: 1, LogIndex: 5},
		},
		RewardStates: []model.RewardState{{AccountID: alice, ActiveUnitCount: 2}},
	}))

	owned, err := s.ListStakeRecordsByOwner(ctx, alice)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "1", owned[0].UnitID)
	assert.Equal(t, "2", owned[1].UnitID)

	log, err := s.ListStakingLog(ctx, alice)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "1", log[0].UnitID, "log must be ordered by block and log index")

	require.NoError(t, s.Commit(ctx, &model.ChangeSet{DeletedStakeRecords: []string{"1"}}))
	_, err = s.GetStakeRecord(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	state, err := s.GetRewardState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, state.ActiveUnitCount)
}
