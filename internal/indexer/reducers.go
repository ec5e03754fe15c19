package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creatureboring/accounting-engine/internal/event"
	"github.com/creatureboring/accounting-engine/internal/model"
	"github.com/creatureboring/accounting-engine/internal/position"
	"github.com/creatureboring/accounting-engine/internal/rewards"
	"github.com/creatureboring/accounting-engine/internal/store"
)

// --- Positions ---

// reduceTransfer debits From and credits To. The transfer is all or
// nothing: a debit the ledger cannot honor drops the credit as well, so a
// rejected transfer never changes supply.
func (p *Processor) reduceTransfer(ctx context.Context, env *event.Envelope, t event.Transfer) (reduction, error) {
	assetID := env.Contract

	// A self-transfer moves nothing.
	if t.From == t.To {
		return reduction{cs: &model.ChangeSet{}}, nil
	}

	// Read phase.
	price, err := p.assetPrice(ctx, assetID)
	if err != nil {
		return reduction{}, err
	}
	prev := make(map[string]*model.Position, 2)
	for _, acct := range []string{t.From, t.To} {
		if !position.Tracked(acct) {
			continue
		}
		pos, err := p.loadPosition(ctx, assetID, acct)
		if err != nil {
			return reduction{}, err
		}
		prev[acct] = pos
	}

	// Write phase.
	debit, err := position.ApplyTransfer(prev[t.From], assetID, t.From, t.Value.Neg(), price)
	if err != nil {
		return reduction{
			cs:         &model.ChangeSet{},
			violations: []error{fmt.Errorf("account %s: %w", t.From, err)},
		}, nil
	}
	credit, err := position.ApplyTransfer(prev[t.To], assetID, t.To, t.Value, price)
	if err != nil {
		return reduction{
			cs:         &model.ChangeSet{},
			violations: []error{fmt.Errorf("account %s: %w", t.To, err)},
		}, nil
	}

	cs := &model.ChangeSet{}
	for _, pos := range []*model.Position{debit, credit} {
		if pos == nil {
			continue
		}
		cs.Positions = append(cs.Positions, *pos)
		cs.Snapshots = append(cs.Snapshots, position.NewSnapshot(pos, price, env.TxHash, env.LogIndex, env.Block.Timestamp))
	}
	return reduction{cs: cs}, nil
}

// reduceTrade adds the trade to the asset aggregates and updates the cost
// basis of the trader. The paired transfer has already been applied.
func (p *Processor) reduceTrade(ctx context.Context, env *event.Envelope, t event.Trade) (reduction, error) {
	assetID := env.Contract

	// Read phase.
	a, err := p.loadAsset(ctx, assetID)
	if err != nil {
		return reduction{}, err
	}
	var prev *model.Position
	if position.Tracked(t.Trader) {
		if prev, err = p.loadPosition(ctx, assetID, t.Trader); err != nil {
			return reduction{}, err
		}
	}

	// Write phase.
	a.TotalVolumeTraded = a.TotalVolumeTraded.Add(t.EthAmount)
	if t.IsBuy {
		a.DepositsTotal = a.DepositsTotal.Add(t.EthAmount)
	} else {
		a.WithdrawalsTotal = a.WithdrawalsTotal.Add(t.EthAmount)
	}
	a.ProtocolFees = a.ProtocolFees.Add(t.ProtocolFee)
	a.TradeCount++
	if env.Block.Timestamp > a.UpdatedAt {
		a.UpdatedAt = env.Block.Timestamp
	}
	cs := &model.ChangeSet{Assets: []model.Asset{*a}}

	if !position.Tracked(t.Trader) {
		return reduction{cs: cs}, nil
	}

	price := a.Price
	if price.IsZero() && t.Amount.IsPositive() {
		// No published price yet: fall back to the execution price.
		price = t.EthAmount.Div(t.Amount)
	}
	next, err := position.ApplyTrade(prev, t.TokenDelta(), t.EthAmount, price)
	if err != nil {
		return reduction{cs: cs, violations: []error{fmt.Errorf("trader %s: %w", t.Trader, err)}}, nil
	}

	cs.Positions = []model.Position{*next}
	cs.Snapshots = []model.PositionSnapshot{
		position.NewSnapshot(next, price, env.TxHash, env.LogIndex, env.Block.Timestamp),
	}
	return reduction{cs: cs}, nil
}

func (p *Processor) reducePriceUpdate(ctx context.Context, env *event.Envelope, u event.PriceUpdate) (reduction, error) {
	a, err := p.loadAsset(ctx, env.Contract)
	if err != nil {
		return reduction{}, err
	}
	a.Price = u.NewPrice
	a.Supply = u.TokenSupply
	if env.Block.Timestamp > a.UpdatedAt {
		a.UpdatedAt = env.Block.Timestamp
	}
	return reduction{cs: &model.ChangeSet{Assets: []model.Asset{*a}}}, nil
}

// loadAsset returns the stored asset, or a zeroed one if it is not known yet.
func (p *Processor) loadAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	a, err := p.store.GetAsset(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		fresh := model.NewAsset(assetID)
		return &fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", assetID, err)
	}
	return a, nil
}

func (p *Processor) loadPosition(ctx context.Context, assetID, account string) (*model.Position, error) {
	pos, err := p.store.GetPosition(ctx, assetID, account)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read position %s/%s: %w", assetID, account, err)
	}
	return pos, nil
}

// --- Staking ---

func (p *Processor) reduceStaked(ctx context.Context, env *event.Envelope, s event.Staked) (reduction, error) {
	// Read phase.
	state, err := p.loadRewardState(ctx, s.Owner)
	if err != nil {
		return reduction{}, err
	}
	existing, err := p.loadStakeRecord(ctx, s.TokenID)
	if err != nil {
		return reduction{}, err
	}
	if existing != nil {
		return reduction{
			cs:         &model.ChangeSet{},
			violations: []error{fmt.Errorf("unit %s held by %s: %w", s.TokenID, existing.Owner, ErrDuplicateStake)},
		}, nil
	}

	// Write phase.
	res := rewards.OnStake(state, action(env, s.Owner, s.TokenID, stakeTime(env, s.Timestamp)))

	return reduction{cs: &model.ChangeSet{
		StakeRecords: []model.StakeRecord{*res.Created},
		RewardStates: []model.RewardState{res.State},
		StakingLog:   []model.StakingLogEntry{res.LogEntry},
	}}, nil
}

// reduceUnstake handles both Unstaked and EmergencyWithdraw. An emergency
// withdraw of a unit that is no longer staked is a no-op.
func (p *Processor) reduceUnstake(ctx context.Context, env *event.Envelope, owner, unitID string, ts int64, emergency bool) (reduction, error) {
	// Read phase.
	state, err := p.loadRewardState(ctx, owner)
	if err != nil {
		return reduction{}, err
	}
	rec, err := p.loadStakeRecord(ctx, unitID)
	if err != nil {
		return reduction{}, err
	}
	history, err := p.store.ListStakingLog(ctx, owner)
	if err != nil {
		return reduction{}, fmt.Errorf("read staking log %s: %w", owner, err)
	}

	// Write phase.
	a := action(env, owner, unitID, stakeTime(env, ts))
	var res rewards.Result
	if emergency {
		res, err = rewards.OnEmergencyWithdraw(state, rec, history, a)
	} else {
		res, err = rewards.OnUnstake(state, rec, history, a)
	}
	if errors.Is(err, rewards.ErrAlreadyWithdrawn) {
		slog.Info("emergency withdraw of unit not staked, ignoring",
			"unit", unitID,
			"owner", owner,
			"event", env.ID(),
		)
		return reduction{cs: &model.ChangeSet{}}, nil
	}
	if err != nil {
		return reduction{
			cs:         &model.ChangeSet{},
			violations: []error{fmt.Errorf("unit %s owner %s: %w", unitID, owner, err)},
		}, nil
	}

	slog.Debug("unit unstaked",
		"unit", unitID,
		"owner", owner,
		"emergency", emergency,
		"forfeit_base", res.Forfeit.Base.String(),
		"forfeit_bonus", res.Forfeit.Bonus.String(),
		"points", res.State.PointsAtLastUpdate.String(),
	)

	return reduction{
		cs: &model.ChangeSet{
			DeletedStakeRecords: []string{res.Removed},
			RewardStates:        []model.RewardState{res.State},
			StakingLog:          []model.StakingLogEntry{res.LogEntry},
		},
		forfeit: &res.Forfeit,
	}, nil
}

func (p *Processor) loadRewardState(ctx context.Context, account string) (*model.RewardState, error) {
	st, err := p.store.GetRewardState(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reward state %s: %w", account, err)
	}
	return st, nil
}

func (p *Processor) loadStakeRecord(ctx context.Context, unitID string) (*model.StakeRecord, error) {
	rec, err := p.store.GetStakeRecord(ctx, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stake record %s: %w", unitID, err)
	}
	return rec, nil
}

func action(env *event.Envelope, account, unitID string, ts int64) rewards.Action {
	return rewards.Action{
		Account:     account,
		UnitID:      unitID,
		Timestamp:   ts,
		BlockNumber: env.Block.Number,
		LogIndex:    env.LogIndex,
		TxHash:      env.TxHash,
	}
}

// stakeTime prefers the timestamp emitted by the contract and falls back to
// the block timestamp.
func stakeTime(env *event.Envelope, ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return env.Block.Timestamp
}
