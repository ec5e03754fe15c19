// Package indexer applies decoded contract events to the position and
// rewards ledgers.
//
// Events are processed one at a time by a single writer. For each event
// every entity it needs is read first, the pure ledger functions compute the
// new state, and the resulting change set is committed atomically together
// with the chain checkpoint. An event at or before the checkpoint has
// already been committed and is skipped, so a restart can replay from any
// earlier point and converge on the same state.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/event"
	"github.com/creatureboring/accounting-engine/internal/metrics"
	"github.com/creatureboring/accounting-engine/internal/model"
	"github.com/creatureboring/accounting-engine/internal/position"
	"github.com/creatureboring/accounting-engine/internal/rewards"
	"github.com/creatureboring/accounting-engine/internal/store"
)

// ErrDuplicateStake is reported when a unit is staked while a stake record
// for it is still active.
var ErrDuplicateStake = errors.New("indexer: unit already staked")

// Outcome classifies what processing an event did.
type Outcome string

const (
	// OutcomeApplied means the event changed ledger state.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the checkpoint already covers the event.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeViolation means ledger state did not match the event and at
	// least part of the update was dropped.
	OutcomeViolation Outcome = "violation"
	// OutcomeNoop means the event had nothing to write.
	OutcomeNoop Outcome = "noop"
)

// Notifier receives the entities written by each committed event.
type Notifier interface {
	PositionUpdated(p model.Position)
	RewardUpdated(r model.RewardState)
}

// reduction is the outcome of the read and update phases for one event.
type reduction struct {
	cs         *model.ChangeSet
	violations []error
	forfeit    *rewards.Forfeiture // set by unstakes
}

// Processor is the single writer of ledger state.
type Processor struct {
	store    store.Store
	notifier Notifier // optional
	mu       sync.Mutex
	now      func() time.Time
}

// NewProcessor creates a processor over st. Pass nil for n if updates do
// not need to be published.
func NewProcessor(st store.Store, n Notifier) *Processor {
	return &Processor{
		store:    st,
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process applies a single event. Only infrastructure failures are
// returned as errors; consistency violations are logged and reported
// through the Outcome.
func (p *Processor) Process(ctx context.Context, env *event.Envelope) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.EventLatency.WithLabelValues(string(env.Kind)).Observe(time.Since(start).Seconds())
	}()

	cp, err := p.store.GetCheckpoint(ctx, env.ChainID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("read checkpoint: %w", err)
	}
	if cp != nil && cp.Covers(env.Position()) {
		metrics.EventsTotal.WithLabelValues(string(env.Kind), string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}

	r, err := p.reduce(ctx, env)
	if err != nil {
		return "", fmt.Errorf("process %s: %w", env, err)
	}
	cs := r.cs
	for _, v := range r.violations {
		reportViolation(env, v)
	}

	outcome := OutcomeApplied
	switch {
	case len(r.violations) > 0:
		outcome = OutcomeViolation
	case cs.Empty():
		outcome = OutcomeNoop
	}

	cs.Checkpoint = &model.Checkpoint{
		ChainID:     env.ChainID,
		BlockNumber: env.Block.Number,
		LogIndex:    env.LogIndex,
		UpdatedAt:   p.now(),
	}
	if err := p.store.Commit(ctx, cs); err != nil {
		return "", fmt.Errorf("commit %s: %w", env, err)
	}

	metrics.EventsTotal.WithLabelValues(string(env.Kind), string(outcome)).Inc()
	metrics.CheckpointBlock.WithLabelValues(strconv.FormatInt(env.ChainID, 10)).Set(float64(env.Block.Number))
	recordCommitted(r)
	p.publish(cs)

	return outcome, nil
}

// reduce runs the read phase and the ledger update for env. Consistency
// violations are collected; any other error aborts the event.
func (p *Processor) reduce(ctx context.Context, env *event.Envelope) (reduction, error) {
	switch pl := env.Payload.(type) {
	case event.Transfer:
		return p.reduceTransfer(ctx, env, pl)
	case event.Trade:
		return p.reduceTrade(ctx, env, pl)
	case event.PriceUpdate:
		return p.reducePriceUpdate(ctx, env, pl)
	case event.Staked:
		return p.reduceStaked(ctx, env, pl)
	case event.Unstaked:
		return p.reduceUnstake(ctx, env, pl.Owner, pl.TokenID, pl.Timestamp, false)
	case event.EmergencyWithdraw:
		return p.reduceUnstake(ctx, env, pl.Owner, pl.TokenID, env.Block.Timestamp, true)
	default:
		return reduction{}, fmt.Errorf("%w: %q", event.ErrUnknownKind, env.Kind)
	}
}

// recordCommitted updates the ledger gauges once r is durable.
func recordCommitted(r reduction) {
	if delta := len(r.cs.StakeRecords) - len(r.cs.DeletedStakeRecords); delta != 0 {
		metrics.ActiveStakes.Add(float64(delta))
	}
	if r.forfeit != nil {
		metrics.PointsForfeited.WithLabelValues("base").Add(r.forfeit.Base.InexactFloat64())
		metrics.PointsForfeited.WithLabelValues("bonus").Add(r.forfeit.Bonus.InexactFloat64())
	}
}

func (p *Processor) publish(cs *model.ChangeSet) {
	if p.notifier == nil {
		return
	}
	for _, pos := range cs.Positions {
		p.notifier.PositionUpdated(pos)
	}
	for _, r := range cs.RewardStates {
		p.notifier.RewardUpdated(r)
	}
}

// assetPrice returns the latest known price of assetID, or zero when no
// price has been published yet.
func (p *Processor) assetPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	a, err := p.store.GetAsset(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read asset %s: %w", assetID, err)
	}
	return a.Price, nil
}

// isViolation reports whether err is a data-consistency violation rather
// than an infrastructure failure.
func isViolation(err error) bool {
	return errors.Is(err, position.ErrMissingPosition) ||
		errors.Is(err, position.ErrNegativeBalance) ||
		errors.Is(err, rewards.ErrMissingStakeRecord) ||
		errors.Is(err, rewards.ErrMissingRewardState) ||
		errors.Is(err, ErrDuplicateStake)
}

func violationReason(err error) string {
	switch {
	case errors.Is(err, position.ErrMissingPosition):
		return "missing_position"
	case errors.Is(err, position.ErrNegativeBalance):
		return "negative_balance"
	case errors.Is(err, rewards.ErrMissingStakeRecord):
		return "missing_stake_record"
	case errors.Is(err, rewards.ErrMissingRewardState):
		return "missing_reward_state"
	case errors.Is(err, ErrDuplicateStake):
		return "duplicate_stake"
	default:
		return "other"
	}
}

func reportViolation(env *event.Envelope, err error) {
	reason := violationReason(err)
	metrics.ConsistencyViolations.WithLabelValues(string(env.Kind), reason).Inc()
	slog.Error("consistency violation, update skipped",
		"kind", env.Kind,
		"event", env.ID(),
		"block", env.Block.Number,
		"reason", reason,
		"err", err,
	)
}
