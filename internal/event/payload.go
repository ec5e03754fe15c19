package event

import "github.com/shopspring/decimal"

// ZeroAddress is the mint/burn sentinel. Its positions are never tracked.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Transfer moves Value tokens of the emitting contract from From to To.
// Value is in ether units (already scaled from wei).
type Transfer struct {
	From  string
	To    string
	Value decimal.Decimal
}

func (Transfer) kind() Kind { return KindTransfer }

// Trade is a bonding-curve buy or sell executed by Trader.
type Trade struct {
	Trader      string
	IsBuy       bool
	Amount      decimal.Decimal // tokens
	EthAmount   decimal.Decimal
	ProtocolFee decimal.Decimal
}

func (Trade) kind() Kind { return KindTrade }

// TokenDelta is the signed token amount: positive for buys, negative for sells.
func (t Trade) TokenDelta() decimal.Decimal {
	if t.IsBuy {
		return t.Amount
	}
	return t.Amount.Neg()
}

// PriceUpdate publishes the new curve price of the emitting contract.
type PriceUpdate struct {
	NewPrice    decimal.Decimal
	TokenSupply decimal.Decimal
}

func (PriceUpdate) kind() Kind { return KindPriceUpdate }

// Staked records Owner staking unit TokenID at Timestamp.
type Staked struct {
	Owner     string
	TokenID   string
	Timestamp int64
}

func (Staked) kind() Kind { return KindStaked }

// Unstaked records Owner unstaking unit TokenID at Timestamp.
type Unstaked struct {
	Owner     string
	TokenID   string
	Timestamp int64
}

func (Unstaked) kind() Kind { return KindUnstaked }

// EmergencyWithdraw pulls TokenID out of staking to Recipient. It carries no
// timestamp of its own; the block timestamp applies.
type EmergencyWithdraw struct {
	Owner     string
	TokenID   string
	Recipient string
}

func (EmergencyWithdraw) kind() Kind { return KindEmergencyWithdraw }
