package rewards

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/model"
)

const staker = "0x00000000000000000000000000000000000000cc"

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func act(unit string, ts int64) Action {
	return Action{Account: staker, UnitID: unit, Timestamp: ts, BlockNumber: ts, TxHash: "0xtx"}
}

func logEntry(kind model.StakeKind, unit string, ts int64) model.StakingLogEntry {
	return model.StakingLogEntry{AccountID: staker, Kind: kind, UnitID: unit, Timestamp: ts}
}

// --- Tier table ---

func TestRate_Table(t *testing.T) {
	cases := []struct {
		n    int
		want float64
		tier int
	}{
		{0, 0, 0},
		{1, 0.2, 0},
		{2, 0.46, 1},
		{4, 0.92, 1},
		{5, 1.2, 2},
		{9, 2.16, 2},
		{10, 3.0, 3},
		{12, 3.6, 3},
	}
	for _, tc := range cases {
		if got := Rate(tc.n); !got.Equal(d(tc.want)) {
			t.Errorf("Rate(%d) = %s, want %v", tc.n, got, tc.want)
		}
		if got := TierFor(tc.n).Code; got != tc.tier {
			t.Errorf("TierFor(%d) = %d, want %d", tc.n, got, tc.tier)
		}
	}
}

func TestBonusRate(t *testing.T) {
	want := map[int]float64{1: 0, 3: 0.15, 7: 0.20, 10: 0.50}
	for n, w := range want {
		if got := BonusRate(n); !got.Equal(d(w)) {
			t.Errorf("BonusRate(%d) = %s, want %v", n, got, w)
		}
	}
}

// --- Replay engine ---

func TestBonusLost_SingleUnit(t *testing.T) {
	unit := model.StakeRecord{UnitID: "1", Owner: staker, StakeStartTime: 1000}
	history := []model.StakingLogEntry{logEntry(model.KindStake, "1", 1000)}

	if got := BonusLost(unit, history, 5000); !got.IsZero() {
		t.Errorf("single unit never earns bonus, got %s", got)
	}
}

func TestBonusLost_ConcurrentStakeRaisesTier(t *testing.T) {
	unit := model.StakeRecord{UnitID: "A", Owner: staker, StakeStartTime: 1000}
	history := []model.StakingLogEntry{
		logEntry(model.KindStake, "A", 1000),
		logEntry(model.KindStake, "B", 1100),
	}

	// 1000-1100: 1 unit, no bonus. 1100-1200: 2 units, A adds 100*0.2*0.15.
	if got := BonusLost(unit, history, 1200); !got.Equal(d(3)) {
		t.Errorf("expected 3, got %s", got)
	}
}

func TestBonusLost_TierDropsMidLifetime(t *testing.T) {
	unit := model.StakeRecord{UnitID: "X", Owner: staker, StakeStartTime: 100}
	history := []model.StakingLogEntry{
		logEntry(model.KindStake, "u1", 10),
		logEntry(model.KindStake, "u2", 20),
		logEntry(model.KindStake, "u3", 30),
		logEntry(model.KindStake, "u4", 40),
		logEntry(model.KindStake, "X", 100),
		logEntry(model.KindUnstake, "u1", 200),
	}

	// 100-200: 5 vs 4 units -> 100*0.2*(0.20-0.15) = 1.
	// 200-300: 4 vs 3 units -> same tier, 0.
	if got := BonusLost(unit, history, 300); !got.Equal(d(1)) {
		t.Errorf("expected 1, got %s", got)
	}
}

func TestBonusLost_IgnoresOtherAccounts(t *testing.T) {
	unit := model.StakeRecord{UnitID: "A", Owner: staker, StakeStartTime: 0}
	other := model.StakingLogEntry{AccountID: "0xother", Kind: model.KindStake, UnitID: "Z", Timestamp: 10}
	history := []model.StakingLogEntry{logEntry(model.KindStake, "A", 0), other}

	if got := BonusLost(unit, history, 100); !got.IsZero() {
		t.Errorf("other accounts must not affect replay, got %s", got)
	}
}

func TestBonusLost_UnsortedHistory(t *testing.T) {
	unit := model.StakeRecord{UnitID: "A", Owner: staker, StakeStartTime: 1000}
	history := []model.StakingLogEntry{
		logEntry(model.KindStake, "A", 1000),
		logEntry(model.KindUnstake, "B", 1150),
		logEntry(model.KindStake, "B", 1100),
	}

	// Sorted: B joins at 1100, leaves at 1150 -> 50s at 2 units -> 50*0.2*0.15.
	if got := BonusLost(unit, history, 1200); !got.Equal(d(1.5)) {
		t.Errorf("expected 1.5, got %s", got)
	}
}

func TestBonusLost_EqualTimestampsKeepLogOrder(t *testing.T) {
	unit := model.StakeRecord{UnitID: "A", Owner: staker, StakeStartTime: 1000}
	history := []model.StakingLogEntry{
		logEntry(model.KindStake, "A", 1000),
		logEntry(model.KindStake, "B", 1100),
		logEntry(model.KindUnstake, "B", 1100),
		logEntry(model.KindStake, "C", 1100),
		logEntry(model.KindStake, "D", 1150),
		logEntry(model.KindUnstake, "D", 1150),
	}

	// B leaves in the same second it arrived and C replaces it: 2 units
	// from 1100 to 1200 -> 100*0.2*0.15.
	if got := BonusLost(unit, history, 1200); !got.Equal(d(3)) {
		t.Errorf("expected 3, got %s", got)
	}
}

func TestBonusLost_RestakedUnitReplaysCurrentStakeOnly(t *testing.T) {
	unit := model.StakeRecord{UnitID: "A", Owner: staker, StakeStartTime: 300}
	history := []model.StakingLogEntry{
		logEntry(model.KindStake, "A", 100),
		logEntry(model.KindStake, "B", 150),
		logEntry(model.KindUnstake, "A", 200),
		logEntry(model.KindStake, "A", 300),
	}

	// The earlier A stake/unstake pair nets out, leaving B beside A for
	// 300-400 -> 100*0.2*0.15.
	if got := BonusLost(unit, history, 400); !got.Equal(d(3)) {
		t.Errorf("expected 3, got %s", got)
	}
}

// --- Ledger ---

func TestOnStake_FirstUnit(t *testing.T) {
	res := OnStake(nil, act("1", 1000))

	if res.State.ActiveUnitCount != 1 || res.State.TotalUnitsEverStaked != 1 {
		t.Errorf("unexpected counts: %+v", res.State)
	}
	if !res.State.CurrentRatePerSecond.Equal(d(0.2)) {
		t.Errorf("expected rate 0.2, got %s", res.State.CurrentRatePerSecond)
	}
	if res.State.LastUpdateTimestamp != 1000 {
		t.Errorf("expected last update 1000, got %d", res.State.LastUpdateTimestamp)
	}
	if res.Created == nil || res.Created.StakeStartTime != 1000 || res.Created.Owner != staker {
		t.Errorf("unexpected stake record: %+v", res.Created)
	}
	if res.LogEntry.Kind != model.KindStake || res.LogEntry.ID != "1000-0-1" {
		t.Errorf("unexpected log entry: %+v", res.LogEntry)
	}
}

func TestOnStake_AccruesAtPreviousRate(t *testing.T) {
	first := OnStake(nil, act("1", 1000))
	second := OnStake(&first.State, act("2", 1100))

	if !second.State.PointsAtLastUpdate.Equal(d(20)) {
		t.Errorf("expected 20 points, got %s", second.State.PointsAtLastUpdate)
	}
	if second.State.BonusTier != 1 || !second.State.CurrentRatePerSecond.Equal(d(0.46)) {
		t.Errorf("expected tier 1 at 0.46/s, got %d at %s", second.State.BonusTier, second.State.CurrentRatePerSecond)
	}
}

func TestOnUnstake_SingleUnitForfeiture(t *testing.T) {
	staked := OnStake(nil, act("1", 1000))
	history := []model.StakingLogEntry{staked.LogEntry}

	res, err := OnUnstake(&staked.State, staked.Created, history, act("1", 1500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Forfeit.Base.Equal(d(100)) || !res.Forfeit.Bonus.IsZero() {
		t.Errorf("expected base 100 / bonus 0, got %s / %s", res.Forfeit.Base, res.Forfeit.Bonus)
	}
	if !res.State.PointsAtLastUpdate.IsZero() {
		t.Errorf("all accrual forfeited, expected 0, got %s", res.State.PointsAtLastUpdate)
	}
	if res.State.ActiveUnitCount != 0 || !res.State.CurrentRatePerSecond.IsZero() {
		t.Errorf("expected no active units, got %+v", res.State)
	}
	if res.Removed != "1" || res.LogEntry.Kind != model.KindUnstake {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestOnUnstake_KeepsRemainingUnitsAccrual(t *testing.T) {
	a := OnStake(nil, act("A", 1000))
	b := OnStake(&a.State, act("B", 1100))
	history := []model.StakingLogEntry{a.LogEntry, b.LogEntry}

	res, err := OnUnstake(&b.State, a.Created, history, act("A", 1200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Accrued 20 + 100*0.46 = 66; forfeit 40 base + 3 bonus.
	if !res.Forfeit.Total().Equal(d(43)) {
		t.Errorf("expected forfeit 43, got %s", res.Forfeit.Total())
	}
	if !res.State.PointsAtLastUpdate.Equal(d(23)) {
		t.Errorf("expected 23 points (B's base + bonus), got %s", res.State.PointsAtLastUpdate)
	}
	if res.State.ActiveUnitCount != 1 || res.State.BonusTier != 0 || !res.State.CurrentRatePerSecond.Equal(d(0.2)) {
		t.Errorf("unexpected state after unstake: %+v", res.State)
	}
	if res.State.TotalUnitsEverStaked != 2 {
		t.Errorf("total units ever staked should stay 2, got %d", res.State.TotalUnitsEverStaked)
	}
}

func TestOnUnstake_ClampsToZero(t *testing.T) {
	state := model.RewardState{AccountID: staker, PointsAtLastUpdate: d(1), LastUpdateTimestamp: 1000, ActiveUnitCount: 1}
	rec := &model.StakeRecord{UnitID: "1", Owner: staker, StakeStartTime: 0}

	res, err := OnUnstake(&state, rec, nil, act("1", 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.State.PointsAtLastUpdate.IsZero() {
		t.Errorf("points must clamp at zero, got %s", res.State.PointsAtLastUpdate)
	}
}

func TestOnUnstake_MissingEntities(t *testing.T) {
	state := OnStake(nil, act("1", 1000)).State

	if _, err := OnUnstake(nil, &model.StakeRecord{UnitID: "1", Owner: staker}, nil, act("1", 1100)); !errors.Is(err, ErrMissingRewardState) {
		t.Errorf("expected ErrMissingRewardState, got %v", err)
	}
	if _, err := OnUnstake(&state, nil, nil, act("1", 1100)); !errors.Is(err, ErrMissingStakeRecord) {
		t.Errorf("expected ErrMissingStakeRecord, got %v", err)
	}
	foreign := &model.StakeRecord{UnitID: "1", Owner: "0xsomeoneelse", StakeStartTime: 1000}
	if _, err := OnUnstake(&state, foreign, nil, act("1", 1100)); !errors.Is(err, ErrMissingStakeRecord) {
		t.Errorf("expected ErrMissingStakeRecord for foreign unit, got %v", err)
	}
}

func TestOnEmergencyWithdraw(t *testing.T) {
	staked := OnStake(nil, act("1", 1000))

	if _, err := OnEmergencyWithdraw(&staked.State, nil, nil, act("1", 1100)); !errors.Is(err, ErrAlreadyWithdrawn) {
		t.Errorf("expected ErrAlreadyWithdrawn, got %v", err)
	}

	res, err := OnEmergencyWithdraw(&staked.State, staked.Created, []model.StakingLogEntry{staked.LogEntry}, act("1", 1100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Forfeit.Base.Equal(d(20)) || res.LogEntry.Kind != model.KindUnstake {
		t.Errorf("emergency withdraw should follow unstake math, got %+v", res)
	}
}
