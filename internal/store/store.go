// Package store defines the persistence interface for the accounting engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/creatureboring/accounting-engine/internal/model"
)

// ErrNotFound is returned by single-entity lookups when the entity is absent.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Reads never observe a partially committed event: every write of an event
// goes through Commit.
type Store interface {
	// --- Positions ---

	// GetPosition retrieves the position of account in asset.
	GetPosition(ctx context.Context, assetID, account string) (*model.Position, error)

	// ListPositionSnapshots returns the snapshots of a position, oldest first.
	ListPositionSnapshots(ctx context.Context, assetID, account string) ([]model.PositionSnapshot, error)

	// GetAsset retrieves the latest known price of an asset.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// --- Staking ---

	// GetStakeRecord retrieves an active stake by unit id.
	GetStakeRecord(ctx context.Context, unitID string) (*model.StakeRecord, error)

	// ListStakeRecordsByOwner returns the active stakes of an account.
	ListStakeRecordsByOwner(ctx context.Context, owner string) ([]model.StakeRecord, error)

	// GetRewardState retrieves the accrual state of an account.
	GetRewardState(ctx context.Context, account string) (*model.RewardState, error)

	// ListStakingLog returns the staking log of an account in
	// (block, log index) order.
	ListStakingLog(ctx context.Context, account string) ([]model.StakingLogEntry, error)

	// --- Progress ---

	// GetCheckpoint retrieves the last committed event of a chain.
	GetCheckpoint(ctx context.Context, chainID int64) (*model.Checkpoint, error)

	// Commit atomically applies the writes of one event together with its
	// checkpoint.
	Commit(ctx context.Context, cs *model.ChangeSet) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
