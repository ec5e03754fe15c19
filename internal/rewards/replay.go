package rewards

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/model"
)

// BonusLost reconstructs the marginal bonus that unit contributed between
// its stake time and unstakeAt.
//
// The bonus multiplier depends on how many units the account held at each
// moment, which changed as other units came and went. The account's log is
// replayed from the unit's stake time; for every interval between log
// entries the bonus earned with the unit is compared to the bonus the
// account would have earned without it.
//
// history must hold the account's log in original (block, log index) order
// and must not yet contain the unstake being processed.
func BonusLost(unit model.StakeRecord, history []model.StakingLogEntry, unstakeAt int64) decimal.Decimal {
	count := 1 // the replayed unit itself
	var replay []model.StakingLogEntry

	for _, e := range history {
		if e.AccountID != unit.Owner {
			continue
		}
		if e.Timestamp < unit.StakeStartTime {
			count += effect(e)
			continue
		}
		if isOwnStake(e, unit) {
			continue
		}
		replay = append(replay, e)
	}

	sort.SliceStable(replay, func(i, j int) bool {
		return replay[i].Timestamp < replay[j].Timestamp
	})

	lost := decimal.Zero
	last := unit.StakeStartTime
	for _, e := range replay {
		lost = lost.Add(marginalBonus(e.Timestamp-last, count))
		count += effect(e)
		last = e.Timestamp
	}
	lost = lost.Add(marginalBonus(unstakeAt-last, count))

	return lost
}

// marginalBonus is the bonus difference between holding n units and n-1
// over duration seconds.
func marginalBonus(duration int64, n int) decimal.Decimal {
	if duration <= 0 {
		return decimal.Zero
	}
	without := n - 1
	if without < 0 {
		without = 0
	}
	return BonusPoints(duration, n).Sub(BonusPoints(duration, without))
}

func effect(e model.StakingLogEntry) int {
	if e.Kind == model.KindStake {
		return 1
	}
	return -1
}

// isOwnStake matches the log entry that created unit; the unit is already
// counted at the start of the replay.
func isOwnStake(e model.StakingLogEntry, unit model.StakeRecord) bool {
	return e.Kind == model.KindStake &&
		e.UnitID == unit.UnitID &&
		e.Timestamp == unit.StakeStartTime
}
