package rewards

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/model"
)

var (
	// ErrMissingStakeRecord is returned when an unstake references a unit
	// that is not staked by the account.
	ErrMissingStakeRecord = errors.New("rewards: unit not staked by account")

	// ErrMissingRewardState is returned when an unstake references an
	// account that never staked.
	ErrMissingRewardState = errors.New("rewards: no reward state for account")

	// ErrAlreadyWithdrawn is returned by OnEmergencyWithdraw when the unit is
	// no longer staked. Callers treat it as a no-op, not a violation.
	ErrAlreadyWithdrawn = errors.New("rewards: unit already withdrawn")
)

// Action identifies one stake or unstake event.
type Action struct {
	Account     string
	UnitID      string
	Timestamp   int64
	BlockNumber int64
	LogIndex    int64
	TxHash      string
}

func (a Action) logEntry(kind model.StakeKind) model.StakingLogEntry {
	return model.StakingLogEntry{
		ID:          model.StakingLogID(a.BlockNumber, a.LogIndex, a.UnitID),
		AccountID:   a.Account,
		Kind:        kind,
		UnitID:      a.UnitID,
		Timestamp:   a.Timestamp,
		BlockNumber: a.BlockNumber,
		TxHash:      a.TxHash,
		LogIndex:    a.LogIndex,
	}
}

// Forfeiture breaks down the points surrendered by an unstake.
type Forfeiture struct {
	Base  decimal.Decimal `json:"base"`
	Bonus decimal.Decimal `json:"bonus"`
}

// Total is Base + Bonus.
func (f Forfeiture) Total() decimal.Decimal {
	return f.Base.Add(f.Bonus)
}

// Result is the write set produced by a rewards update.
type Result struct {
	State    model.RewardState
	Created  *model.StakeRecord // set by OnStake
	Removed  string             // unit id removed by an unstake
	LogEntry model.StakingLogEntry
	Forfeit  Forfeiture
}

// OnStake accrues points at the current rate, then adds the unit and moves
// the account to the rate of its new unit count. prev may be nil for an
// account staking for the first time.
func OnStake(prev *model.RewardState, a Action) Result {
	var state model.RewardState
	if prev != nil {
		state = accrue(*prev, a.Timestamp)
	} else {
		state = model.RewardState{
			AccountID:            a.Account,
			PointsAtLastUpdate:   decimal.Zero,
			CurrentRatePerSecond: decimal.Zero,
		}
	}

	state.TotalUnitsEverStaked++
	retier(&state, state.ActiveUnitCount+1, a.Timestamp)

	return Result{
		State: state,
		Created: &model.StakeRecord{
			UnitID:         a.UnitID,
			Owner:          a.Account,
			StakeStartTime: a.Timestamp,
		},
		LogEntry: a.logEntry(model.KindStake),
	}
}

// OnUnstake accrues points at the pre-unstake rate, forfeits the base and
// bonus accrual attributable to the unit and drops the account to the rate
// of its remaining units. history is the account's staking log as read
// before this event.
func OnUnstake(prev *model.RewardState, rec *model.StakeRecord, history []model.StakingLogEntry, a Action) (Result, error) {
	if prev == nil {
		return Result{}, ErrMissingRewardState
	}
	if rec == nil || rec.Owner != a.Account {
		return Result{}, ErrMissingStakeRecord
	}

	state := accrue(*prev, a.Timestamp)

	lifetime := a.Timestamp - rec.StakeStartTime
	if lifetime < 0 {
		lifetime = 0
	}
	forfeit := Forfeiture{
		Base:  BasePoints(lifetime),
		Bonus: BonusLost(*rec, history, a.Timestamp),
	}

	points := state.PointsAtLastUpdate.Sub(forfeit.Total())
	if points.IsNegative() {
		points = decimal.Zero
	}
	state.PointsAtLastUpdate = points

	remaining := state.ActiveUnitCount - 1
	if remaining < 0 {
		remaining = 0
	}
	retier(&state, remaining, a.Timestamp)

	return Result{
		State:    state,
		Removed:  rec.UnitID,
		LogEntry: a.logEntry(model.KindUnstake),
		Forfeit:  forfeit,
	}, nil
}

// OnEmergencyWithdraw applies the unstake forfeiture math. A unit that is
// already gone yields ErrAlreadyWithdrawn instead of ErrMissingStakeRecord.
func OnEmergencyWithdraw(prev *model.RewardState, rec *model.StakeRecord, history []model.StakingLogEntry, a Action) (Result, error) {
	if prev == nil {
		return Result{}, ErrMissingRewardState
	}
	if rec == nil || rec.Owner != a.Account {
		return Result{}, ErrAlreadyWithdrawn
	}
	return OnUnstake(prev, rec, history, a)
}

// accrue finalizes the points earned since the last update.
func accrue(s model.RewardState, ts int64) model.RewardState {
	s.PointsAtLastUpdate = s.PointsAt(ts)
	return s
}

func retier(s *model.RewardState, active int, ts int64) {
	s.ActiveUnitCount = active
	s.BonusTier = TierFor(active).Code
	s.CurrentRatePerSecond = Rate(active)
	if ts > s.LastUpdateTimestamp {
		s.LastUpdateTimestamp = ts
	}
}
