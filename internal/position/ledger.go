// Package position implements the cost-basis ledger for traded tokens.
//
// Balance bookkeeping and financial bookkeeping are kept apart: transfers
// only move Balance, trades only move TotalCost and TotalSales. A trade is
// always applied after its paired transfer, so a sell sees the balance that
// remains after the tokens left the account.
//
// Both operations are pure: they take the previous position (nil when
// absent) and return the new one without touching any store.
package position

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/event"
	"github.com/creatureboring/accounting-engine/internal/model"
)

var (
	// ErrMissingPosition is returned when a decrease or a trade references an
	// account that has no position yet.
	ErrMissingPosition = errors.New("position: no position for account")

	// ErrNegativeBalance is returned when a transfer would leave a tracked
	// account with a negative balance.
	ErrNegativeBalance = errors.New("position: transfer would drive balance below zero")

	// DustThreshold is the remaining balance below which a partial sell is
	// treated as a close for cost-basis purposes.
	DustThreshold = decimal.RequireFromString("0.001")
)

// Tracked reports whether positions are kept for account. The mint/burn
// sentinel is never tracked.
func Tracked(account string) bool {
	return account != event.ZeroAddress
}

// ApplyTransfer adjusts the balance of account by delta. It returns nil and
// no error when there is nothing to write (sentinel account, or a zero
// delta on an absent position).
func ApplyTransfer(prev *model.Position, assetID, account string, delta, price decimal.Decimal) (*model.Position, error) {
	if !Tracked(account) {
		return nil, nil
	}

	if prev == nil {
		if delta.IsNegative() {
			return nil, ErrMissingPosition
		}
		if delta.IsZero() {
			return nil, nil
		}
		return &model.Position{
			ID:            model.PositionID(assetID, account),
			AssetID:       assetID,
			Account:       account,
			Balance:       delta,
			TotalCost:     decimal.Zero,
			TotalSales:    decimal.Zero,
			LastPrice:     price,
			LastMarketCap: delta.Mul(price),
		}, nil
	}

	balance := prev.Balance.Add(delta)
	if balance.IsNegative() {
		return nil, ErrNegativeBalance
	}

	next := *prev
	next.Balance = balance
	next.LastMarketCap = balance.Mul(price)
	return &next, nil
}

// ApplyTrade updates cost and sales basis. tokenDelta is positive for buys
// and negative for sells; prev.Balance must already reflect the transfer.
func ApplyTrade(prev *model.Position, tokenDelta, ethAmount, price decimal.Decimal) (*model.Position, error) {
	if prev == nil {
		return nil, ErrMissingPosition
	}

	next := *prev
	switch {
	case tokenDelta.IsPositive():
		next.TotalCost = prev.TotalCost.Add(ethAmount)

	case tokenDelta.IsNegative():
		sold := tokenDelta.Abs()
		remaining := prev.Balance
		before := remaining.Add(sold)

		next.TotalSales = prev.TotalSales.Add(ethAmount)

		if before.IsPositive() {
			switch {
			case remaining.IsZero():
				// Full close: the next position starts clean.
				next.TotalCost = decimal.Zero
				next.TotalSales = decimal.Zero
			case remaining.LessThan(DustThreshold):
				next.TotalCost = decimal.Zero
			default:
				proportion := sold.Div(before)
				next.TotalCost = clampZero(prev.TotalCost.Sub(prev.TotalCost.Mul(proportion)))
			}
		}
	}

	next.LastPrice = price
	next.LastMarketCap = next.Balance.Mul(price)
	return &next, nil
}

// NewSnapshot records the state of p after the event at (txHash, logIndex).
func NewSnapshot(p *model.Position, price decimal.Decimal, txHash string, logIndex, timestamp int64) model.PositionSnapshot {
	return model.PositionSnapshot{
		ID:        model.SnapshotID(txHash, logIndex, p.Account),
		AssetID:   p.AssetID,
		Account:   p.Account,
		Balance:   p.Balance,
		Price:     price,
		MarketCap: p.Balance.Mul(price),
		Timestamp: timestamp,
		TxHash:    txHash,
		LogIndex:  logIndex,
	}
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
