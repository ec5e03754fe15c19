// Package model defines the ledger entities shared across the accounting engine.
// All quantities use shopspring/decimal, never float64 for money or points.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one account's holdings of one asset. Balance is driven by
// transfers; TotalCost and TotalSales are driven by trades only.
type Position struct {
	ID            string          `json:"id" db:"id"` // {asset}-{account}
	AssetID       string          `json:"asset_id" db:"asset_id"`
	Account       string          `json:"account" db:"account"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	TotalCost     decimal.Decimal `json:"total_cost" db:"total_cost"`
	TotalSales    decimal.Decimal `json:"total_sales" db:"total_sales"`
	LastPrice     decimal.Decimal `json:"last_price" db:"last_price"`
	LastMarketCap decimal.Decimal `json:"last_market_cap" db:"last_market_cap"`
}

// PositionID returns the identifier of the position held by account in asset.
func PositionID(assetID, account string) string {
	return assetID + "-" + account
}

// PositionSnapshot is an immutable point-in-time record of a position,
// written after every successful transfer or trade. Never updated.
type PositionSnapshot struct {
	ID        string          `json:"id" db:"id"` // {txHash}-{logIndex}-{account}
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Account   string          `json:"account" db:"account"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Price     decimal.Decimal `json:"price" db:"price"`
	MarketCap decimal.Decimal `json:"market_cap" db:"market_cap"`
	Timestamp int64           `json:"timestamp" db:"timestamp"`
	TxHash    string          `json:"tx_hash" db:"tx_hash"`
	LogIndex  int64           `json:"log_index" db:"log_index"`
}

// SnapshotID builds the composite key of a position snapshot.
func SnapshotID(txHash string, logIndex int64, account string) string {
	return fmt.Sprintf("%s-%d-%s", txHash, logIndex, account)
}

// Asset carries the latest known price of a traded token and its running
// trade aggregates. Price and Supply come from price updates; the totals
// are accumulated from trades.
type Asset struct {
	ID                string          `json:"id" db:"id"`
	Price             decimal.Decimal `json:"price" db:"price"`
	Supply            decimal.Decimal `json:"supply" db:"supply"`
	TotalVolumeTraded decimal.Decimal `json:"total_volume_traded" db:"total_volume_traded"`
	DepositsTotal     decimal.Decimal `json:"deposits_total" db:"deposits_total"`
	WithdrawalsTotal  decimal.Decimal `json:"withdrawals_total" db:"withdrawals_total"`
	ProtocolFees      decimal.Decimal `json:"protocol_fees" db:"protocol_fees"`
	TradeCount        int64           `json:"trade_count" db:"trade_count"`
	UpdatedAt         int64           `json:"updated_at" db:"updated_at"`
}

// NewAsset returns an asset with every amount set to zero.
func NewAsset(id string) Asset {
	return Asset{
		ID:                id,
		Price:             decimal.Zero,
		Supply:            decimal.Zero,
		TotalVolumeTraded: decimal.Zero,
		DepositsTotal:     decimal.Zero,
		WithdrawalsTotal:  decimal.Zero,
		ProtocolFees:      decimal.Zero,
	}
}

// StakeRecord tracks one staked unit while it is active.
type StakeRecord struct {
	UnitID         string `json:"unit_id" db:"unit_id"`
	Owner          string `json:"owner" db:"owner"`
	StakeStartTime int64  `json:"stake_start_time" db:"stake_start_time"`
}

// StakeKind is the action recorded in the staking log.
type StakeKind string

const (
	KindStake   StakeKind = "STAKE"
	KindUnstake StakeKind = "UNSTAKE"
)

// StakingLogEntry is an append-only record of a stake or unstake action.
type StakingLogEntry struct {
	ID          string    `json:"id" db:"id"` // {blockNumber}-{logIndex}-{unitID}
	AccountID   string    `json:"account_id" db:"account_id"`
	Kind        StakeKind `json:"kind" db:"kind"`
	UnitID      string    `json:"unit_id" db:"unit_id"`
	Timestamp   int64     `json:"timestamp" db:"timestamp"`
	BlockNumber int64     `json:"block_number" db:"block_number"`
	TxHash      string    `json:"tx_hash" db:"tx_hash"`
	LogIndex    int64     `json:"log_index" db:"log_index"`
}

// StakingLogID builds the composite key of a staking log entry.
func StakingLogID(blockNumber, logIndex int64, unitID string) string {
	return fmt.Sprintf("%d-%d-%s", blockNumber, logIndex, unitID)
}

// RewardState is the per-account accrual state of the staking rewards ledger.
type RewardState struct {
	AccountID            string          `json:"account_id" db:"account_id"`
	PointsAtLastUpdate   decimal.Decimal `json:"points_at_last_update" db:"points_at_last_update"`
	CurrentRatePerSecond decimal.Decimal `json:"current_rate_per_second" db:"current_rate_per_second"`
	LastUpdateTimestamp  int64           `json:"last_update_timestamp" db:"last_update_timestamp"`
	BonusTier            int             `json:"bonus_tier" db:"bonus_tier"`
	ActiveUnitCount      int             `json:"active_unit_count" db:"active_unit_count"`
	TotalUnitsEverStaked int             `json:"total_units_ever_staked" db:"total_units_ever_staked"`
}

// PointsAt projects the points held at ts by accruing the current rate
// since the last update. Timestamps before the last update yield the
// finalized value.
func (r RewardState) PointsAt(ts int64) decimal.Decimal {
	elapsed := ts - r.LastUpdateTimestamp
	if elapsed <= 0 {
		return r.PointsAtLastUpdate
	}
	return r.PointsAtLastUpdate.Add(decimal.NewFromInt(elapsed).Mul(r.CurrentRatePerSecond))
}

// Checkpoint is the last durably committed event of a chain.
type Checkpoint struct {
	ChainID     int64     `json:"chain_id" db:"chain_id"`
	BlockNumber int64     `json:"block_number" db:"block_number"`
	LogIndex    int64     `json:"log_index" db:"log_index"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Covers reports whether the event at (blockNumber, logIndex) has already
// been committed.
func (c Checkpoint) Covers(blockNumber, logIndex int64) bool {
	if blockNumber != c.BlockNumber {
		return blockNumber < c.BlockNumber
	}
	return logIndex <= c.LogIndex
}

// ChangeSet is the write phase of a single event. A store commits it
// atomically together with the checkpoint.
type ChangeSet struct {
	Positions           []Position
	Snapshots           []PositionSnapshot
	Assets              []Asset
	StakeRecords        []StakeRecord
	DeletedStakeRecords []string
	RewardStates        []RewardState
	StakingLog          []StakingLogEntry
	Checkpoint          *Checkpoint
}

// Empty reports whether the change set carries no entity writes.
func (c *ChangeSet) Empty() bool {
	return len(c.Positions) == 0 && len(c.Snapshots) == 0 && len(c.Assets) == 0 &&
		len(c.StakeRecords) == 0 && len(c.DeletedStakeRecords) == 0 &&
		len(c.RewardStates) == 0 && len(c.StakingLog) == 0
}
