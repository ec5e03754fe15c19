// Package rewards implements the time-weighted staking rewards ledger.
//
// Every staked unit accrues BaseRate points per second; an account holding
// several units concurrently earns a bonus multiplier picked from the tier
// table by its active unit count. Removing a unit forfeits everything that
// unit contributed over its staked lifetime: its flat base accrual plus the
// marginal bonus it added, reconstructed by replaying the account's staking
// log (see BonusLost).
//
// All points use shopspring/decimal, never float64.
package rewards

import "github.com/shopspring/decimal"

// BaseRate is the per-unit accrual: one point every five seconds.
var BaseRate = decimal.RequireFromString("0.2")

// Tier is one bracket of the bonus table.
type Tier struct {
	Code       int
	MinUnits   int
	Multiplier decimal.Decimal
}

// tiers is ordered from the highest bracket down.
var tiers = []Tier{
	{Code: 3, MinUnits: 10, Multiplier: decimal.RequireFromString("1.50")},
	{Code: 2, MinUnits: 5, Multiplier: decimal.RequireFromString("1.20")},
	{Code: 1, MinUnits: 2, Multiplier: decimal.RequireFromString("1.15")},
	{Code: 0, MinUnits: 0, Multiplier: decimal.NewFromInt(1)},
}

// TierFor returns the bracket for n concurrently active units.
func TierFor(n int) Tier {
	for _, t := range tiers {
		if n >= t.MinUnits {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// BonusRate is the additive part of the multiplier for n units
// (0, 0.15, 0.20 or 0.50).
func BonusRate(n int) decimal.Decimal {
	return TierFor(n).Multiplier.Sub(decimal.NewFromInt(1))
}

// Rate returns the points per second earned by an account with n active units.
func Rate(n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Mul(BaseRate).Mul(TierFor(n).Multiplier)
}

// BasePoints is the flat accrual of a single unit over duration seconds.
func BasePoints(duration int64) decimal.Decimal {
	return decimal.NewFromInt(duration).Mul(BaseRate)
}

// BonusPoints is the bonus accrued by a single unit over duration seconds
// while the account held n units.
func BonusPoints(duration int64, n int) decimal.Decimal {
	return BasePoints(duration).Mul(BonusRate(n))
}
