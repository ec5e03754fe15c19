package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id              TEXT PRIMARY KEY,
    asset_id        TEXT    NOT NULL,
    account         TEXT    NOT NULL,
    balance         NUMERIC NOT NULL DEFAULT 0,
    total_cost      NUMERIC NOT NULL DEFAULT 0,
    total_sales     NUMERIC NOT NULL DEFAULT 0,
    last_price      NUMERIC NOT NULL DEFAULT 0,
    last_market_cap NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS position_snapshots (
    seq        BIGSERIAL,
    id         TEXT PRIMARY KEY,
    asset_id   TEXT    NOT NULL,
    account    TEXT    NOT NULL,
    balance    NUMERIC NOT NULL,
    price      NUMERIC NOT NULL,
    market_cap NUMERIC NOT NULL,
    timestamp  BIGINT  NOT NULL,
    tx_hash    TEXT    NOT NULL,
    log_index  BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
    id                  TEXT PRIMARY KEY,
    price               NUMERIC NOT NULL,
    supply              NUMERIC NOT NULL DEFAULT 0,
    total_volume_traded NUMERIC NOT NULL DEFAULT 0,
    deposits_total      NUMERIC NOT NULL DEFAULT 0,
    withdrawals_total   NUMERIC NOT NULL DEFAULT 0,
    protocol_fees       NUMERIC NOT NULL DEFAULT 0,
    trade_count         BIGINT  NOT NULL DEFAULT 0,
    updated_at          BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS stake_records (
    unit_id          TEXT PRIMARY KEY,
    owner            TEXT   NOT NULL,
    stake_start_time BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_states (
    account_id              TEXT PRIMARY KEY,
    points_at_last_update   NUMERIC NOT NULL DEFAULT 0,
    current_rate_per_second NUMERIC NOT NULL DEFAULT 0,
    last_update_timestamp   BIGINT  NOT NULL,
    bonus_tier              INTEGER NOT NULL DEFAULT 0,
    active_unit_count       INTEGER NOT NULL DEFAULT 0,
    total_units_ever_staked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS staking_log (
    id           TEXT PRIMARY KEY,
    account_id   TEXT   NOT NULL,
    kind         TEXT   NOT NULL,
    unit_id      TEXT   NOT NULL,
    timestamp    BIGINT NOT NULL,
    block_number BIGINT NOT NULL,
    tx_hash      TEXT   NOT NULL,
    log_index    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    chain_id     BIGINT PRIMARY KEY,
    block_number BIGINT      NOT NULL,
    log_index    BIGINT      NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_position ON position_snapshots(asset_id, account, seq);
CREATE INDEX IF NOT EXISTS idx_stakes_owner       ON stake_records(owner);
CREATE INDEX IF NOT EXISTS idx_staking_log_order  ON staking_log(account_id, block_number, log_index);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, assetID, account string) (*model.Position, error) {
	var p model.Position
	var balance, cost, sales, price, mcap string

	err := s.pool.QueryRow(ctx,
		`SELECT id, asset_id, account,
		        balance::TEXT, total_cost::TEXT, total_sales::TEXT,
		        last_price::TEXT, last_market_cap::TEXT
		 FROM positions WHERE id = $1`, model.PositionID(assetID, account)).
		Scan(&p.ID, &p.AssetID, &p.Account,
			&balance, &cost, &sales,
			&price, &mcap)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get position %s/%s", assetID, account), err)
	}

	p.Balance, _ = decimal.NewFromString(balance)
	p.TotalCost, _ = decimal.NewFromString(cost)
	p.TotalSales, _ = decimal.NewFromString(sales)
	p.LastPrice, _ = decimal.NewFromString(price)
	p.LastMarketCap, _ = decimal.NewFromString(mcap)

	return &p, nil
}

func (s *PostgresStore) ListPositionSnapshots(ctx context.Context, assetID, account string) ([]model.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, account,
		        balance::TEXT, price::TEXT, market_cap::TEXT,
		        timestamp, tx_hash, log_index
		 FROM position_snapshots
		 WHERE asset_id = $1 AND account = $2
		 ORDER BY seq`, assetID, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []model.PositionSnapshot
	for rows.Next() {
		var snap model.PositionSnapshot
		var balance, price, mcap string
		if err := rows.Scan(&snap.ID, &snap.AssetID, &snap.Account,
			&balance, &price, &mcap,
			&snap.Timestamp, &snap.TxHash, &snap.LogIndex); err != nil {
			return nil, err
		}
		snap.Balance, _ = decimal.NewFromString(balance)
		snap.Price, _ = decimal.NewFromString(price)
		snap.MarketCap, _ = decimal.NewFromString(mcap)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	var price, supply, volume, deposits, withdrawals, fees string

	err := s.pool.QueryRow(ctx,
		`SELECT id, price::TEXT, supply::TEXT, total_volume_traded::TEXT,
		        deposits_total::TEXT, withdrawals_total::TEXT, protocol_fees::TEXT,
		        trade_count, updated_at
		 FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &price, &supply, &volume, &deposits, &withdrawals, &fees, &a.TradeCount, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get asset %s", id), err)
	}

	a.Price, _ = decimal.NewFromString(price)
	a.Supply, _ = decimal.NewFromString(supply)
	a.TotalVolumeTraded, _ = decimal.NewFromString(volume)
	a.DepositsTotal, _ = decimal.NewFromString(deposits)
	a.WithdrawalsTotal, _ = decimal.NewFromString(withdrawals)
	a.ProtocolFees, _ = decimal.NewFromString(fees)
	return &a, nil
}

func (s *PostgresStore) GetStakeRecord(ctx context.Context, unitID string) (*model.StakeRecord, error) {
	var r model.StakeRecord
	err := s.pool.QueryRow(ctx,
		`SELECT unit_id, owner, stake_start_time FROM stake_records WHERE unit_id = $1`, unitID).
		Scan(&r.UnitID, &r.Owner, &r.StakeStartTime)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get stake record %s", unitID), err)
	}
	return &r, nil
}

func (s *PostgresStore) ListStakeRecordsByOwner(ctx context.Context, owner string) ([]model.StakeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT unit_id, owner, stake_start_time
		 FROM stake_records WHERE owner = $1
		 ORDER BY stake_start_time, unit_id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.StakeRecord
	for rows.Next() {
		var r model.StakeRecord
		if err := rows.Scan(&r.UnitID, &r.Owner, &r.StakeStartTime); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetRewardState(ctx context.Context, account string) (*model.RewardState, error) {
	var r model.RewardState
	var points, rate string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, points_at_last_update::TEXT, current_rate_per_second::TEXT,
		        last_update_timestamp, bonus_tier, active_unit_count, total_units_ever_staked
		 FROM reward_states WHERE account_id = $1`, account).
		Scan(&r.AccountID, &points, &rate,
			&r.LastUpdateTimestamp, &r.BonusTier, &r.ActiveUnitCount, &r.TotalUnitsEverStaked)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get reward state %s", account), err)
	}

	r.PointsAtLastUpdate, _ = decimal.NewFromString(points)
	r.CurrentRatePerSecond, _ = decimal.NewFromString(rate)
	return &r, nil
}

func (s *PostgresStore) ListStakingLog(ctx context.Context, account string) ([]model.StakingLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, unit_id, timestamp, block_number, tx_hash, log_index
		 FROM staking_log WHERE account_id = $1
		 ORDER BY block_number, log_index`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.StakingLogEntry
	for rows.Next() {
		var e model.StakingLogEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.UnitID,
			&e.Timestamp, &e.BlockNumber, &e.TxHash, &e.LogIndex); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, chainID int64) (*model.Checkpoint, error) {
	var c model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT chain_id, block_number, log_index, updated_at FROM checkpoints WHERE chain_id = $1`, chainID).
		Scan(&c.ChainID, &c.BlockNumber, &c.LogIndex, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get checkpoint %d", chainID), err)
	}
	return &c, nil
}

// Commit writes the change set and the checkpoint in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, cs *model.ChangeSet) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range cs.Positions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO positions (id, asset_id, account, balance, total_cost, total_sales, last_price, last_market_cap)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
				 ON CONFLICT (id) DO UPDATE SET
				     balance = EXCLUDED.balance, total_cost = EXCLUDED.total_cost,
				     total_sales = EXCLUDED.total_sales, last_price = EXCLUDED.last_price,
				     last_market_cap = EXCLUDED.last_market_cap`,
				p.ID, p.AssetID, p.Account,
				p.Balance.String(), p.TotalCost.String(), p.TotalSales.String(),
				p.LastPrice.String(), p.LastMarketCap.String(),
			); err != nil {
				return fmt.Errorf("upsert position %s: %w", p.ID, err)
			}
		}

		for _, snap := range cs.Snapshots {
			if _, err := tx.Exec(ctx,
				`INSERT INTO position_snapshots (id, asset_id, account, balance, price, market_cap, timestamp, tx_hash, log_index)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
				 ON CONFLICT (id) DO NOTHING`,
				snap.ID, snap.AssetID, snap.Account,
				snap.Balance.String(), snap.Price.String(), snap.MarketCap.String(),
				snap.Timestamp, snap.TxHash, snap.LogIndex,
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
			}
		}

		for _, a := range cs.Assets {
			if _, err := tx.Exec(ctx,
				`INSERT INTO assets (id, price, supply, total_volume_traded, deposits_total,
				                     withdrawals_total, protocol_fees, trade_count, updated_at)
				 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
				 ON CONFLICT (id) DO UPDATE SET
				     price = EXCLUDED.price, supply = EXCLUDED.supply,
				     total_volume_traded = EXCLUDED.total_volume_traded,
				     deposits_total = EXCLUDED.deposits_total,
				     withdrawals_total = EXCLUDED.withdrawals_total,
				     protocol_fees = EXCLUDED.protocol_fees,
				     trade_count = EXCLUDED.trade_count,
				     updated_at = EXCLUDED.updated_at`,
				a.ID, a.Price.String(), a.Supply.String(), a.TotalVolumeTraded.String(),
				a.DepositsTotal.String(), a.WithdrawalsTotal.String(), a.ProtocolFees.String(),
				a.TradeCount, a.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert asset %s: %w", a.ID, err)
			}
		}

		for _, id := range cs.DeletedStakeRecords {
			if _, err := tx.Exec(ctx, `DELETE FROM stake_records WHERE unit_id = $1`, id); err != nil {
				return fmt.Errorf("delete stake record %s: %w", id, err)
			}
		}

		for _, r := range cs.StakeRecords {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stake_records (unit_id, owner, stake_start_time)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (unit_id) DO UPDATE SET
				     owner = EXCLUDED.owner, stake_start_time = EXCLUDED.stake_start_time`,
				r.UnitID, r.Owner, r.StakeStartTime,
			); err != nil {
				return fmt.Errorf("upsert stake record %s: %w", r.UnitID, err)
			}
		}

		for _, r := range cs.RewardStates {
			if _, err := tx.Exec(ctx,
				`INSERT INTO reward_states (account_id, points_at_last_update, current_rate_per_second,
				     last_update_timestamp, bonus_tier, active_unit_count, total_units_ever_staked)
				 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7)
				 ON CONFLICT (account_id) DO UPDATE SET
				     points_at_last_update = EXCLUDED.points_at_last_update,
				     current_rate_per_second = EXCLUDED.current_rate_per_second,
				     last_update_timestamp = EXCLUDED.last_update_timestamp,
				     bonus_tier = EXCLUDED.bonus_tier,
				     active_unit_count = EXCLUDED.active_unit_count,
				     total_units_ever_staked = EXCLUDED.total_units_ever_staked`,
				r.AccountID, r.PointsAtLastUpdate.String(), r.CurrentRatePerSecond.String(),
				r.LastUpdateTimestamp, r.BonusTier, r.ActiveUnitCount, r.TotalUnitsEverStaked,
			); err != nil {
				return fmt.Errorf("upsert reward state %s: %w", r.AccountID, err)
			}
		}

		for _, e := range cs.StakingLog {
			if _, err := tx.Exec(ctx,
				`INSERT INTO staking_log (id, account_id, kind, unit_id, timestamp, block_number, tx_hash, log_index)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (id) DO NOTHING`,
				e.ID, e.AccountID, string(e.Kind), e.UnitID,
				e.Timestamp, e.BlockNumber, e.TxHash, e.LogIndex,
			); err != nil {
				return fmt.Errorf("insert staking log %s: %w", e.ID, err)
			}
		}

		if c := cs.Checkpoint; c != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO checkpoints (chain_id, block_number, log_index, updated_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (chain_id) DO UPDATE SET
				     block_number = EXCLUDED.block_number, log_index = EXCLUDED.log_index,
				     updated_at = EXCLUDED.updated_at`,
				c.ChainID, c.BlockNumber, c.LogIndex, c.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert checkpoint: %w", err)
			}
		}
		return nil
	})
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps everything else.
func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
