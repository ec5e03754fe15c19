package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind    = errors.New("event: unknown event kind")
	ErrInvalidAddress = errors.New("event: invalid address")
	ErrInvalidAmount  = errors.New("event: invalid wei amount")
	ErrMissingField   = errors.New("event: missing required field")
)

// weiExp scales on-chain integer amounts to ether units.
const weiExp = -18

// Raw is the JSON wire form of an event as delivered by the indexing layer.
type Raw struct {
	Kind     Kind            `json:"kind"`
	ChainID  int64           `json:"chain_id"`
	Contract string          `json:"contract"`
	Block    Block           `json:"block"`
	TxHash   string          `json:"tx_hash"`
	LogIndex int64           `json:"log_index"`
	Params   json.RawMessage `json:"params"`
}

type transferParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

type tradeParams struct {
	Trader      string `json:"trader"`
	IsBuy       bool   `json:"is_buy"`
	Amount      string `json:"amount"`
	EthAmount   string `json:"eth_amount"`
	ProtocolFee string `json:"protocol_fee"`
}

type priceUpdateParams struct {
	NewPrice    string `json:"new_price"`
	TokenSupply string `json:"token_supply"`
}

type stakeParams struct {
	Owner     string `json:"owner"`
	TokenID   string `json:"token_id"`
	Timestamp int64  `json:"timestamp"`
	Recipient string `json:"recipient"`
}

// Decode validates a raw event and converts it into a typed Envelope.
// Unknown kinds are rejected with ErrUnknownKind.
func Decode(raw Raw) (*Envelope, error) {
	if !raw.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}
	if raw.TxHash == "" {
		return nil, fmt.Errorf("%w: tx_hash", ErrMissingField)
	}
	contract, err := ParseAddress(raw.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}

	env := &Envelope{
		Kind:     raw.Kind,
		ChainID:  raw.ChainID,
		Contract: contract,
		Block:    raw.Block,
		TxHash:   strings.ToLower(raw.TxHash),
		LogIndex: raw.LogIndex,
	}

	switch raw.Kind {
	case KindTransfer:
		env.Payload, err = decodeTransfer(raw.Params)
	case KindTrade:
		env.Payload, err = decodeTrade(raw.Params)
	case KindPriceUpdate:
		env.Payload, err = decodePriceUpdate(raw.Params)
	case KindStaked, KindUnstaked, KindEmergencyWithdraw:
		env.Payload, err = decodeStaking(raw.Kind, raw.Params)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", raw.Kind, env.ID(), err)
	}
	return env, nil
}

// DecodeJSON parses a single JSON-encoded event.
func DecodeJSON(data []byte) (*Envelope, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("event: parse json: %w", err)
	}
	return Decode(raw)
}

// ParseAddress validates a hex account address and returns it 0x-prefixed
// and lower-cased, the form used in every entity key.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// ParseWei converts a non-negative integer wei amount into ether units.
// Amounts are decimal strings or 0x-prefixed hex quantities.
func ParseWei(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "0x") {
		b, err := hexutil.DecodeBig(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		return decimal.NewFromBigInt(b, weiExp), nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil || v.IsNegative() || !v.Equal(v.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v.Shift(weiExp), nil
}

func decodeTransfer(params json.RawMessage) (Transfer, error) {
	var p transferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Transfer{}, err
	}
	from, err := ParseAddress(p.From)
	if err != nil {
		return Transfer{}, fmt.Errorf("from: %w", err)
	}
	to, err := ParseAddress(p.To)
	if err != nil {
		return Transfer{}, fmt.Errorf("to: %w", err)
	}
	value, err := ParseWei(p.Value)
	if err != nil {
		return Transfer{}, fmt.Errorf("value: %w", err)
	}
	return Transfer{From: from, To: to, Value: value}, nil
}

func decodeTrade(params json.RawMessage) (Trade, error) {
	var p tradeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Trade{}, err
	}
	trader, err := ParseAddress(p.Trader)
	if err != nil {
		return Trade{}, fmt.Errorf("trader: %w", err)
	}
	amount, err := ParseWei(p.Amount)
	if err != nil {
		return Trade{}, fmt.Errorf("amount: %w", err)
	}
	ethAmount, err := ParseWei(p.EthAmount)
	if err != nil {
		return Trade{}, fmt.Errorf("eth_amount: %w", err)
	}
	fee, err := ParseWei(p.ProtocolFee)
	if err != nil {
		return Trade{}, fmt.Errorf("protocol_fee: %w", err)
	}
	return Trade{
		Trader:      trader,
		IsBuy:       p.IsBuy,
		Amount:      amount,
		EthAmount:   ethAmount,
		ProtocolFee: fee,
	}, nil
}

func decodePriceUpdate(params json.RawMessage) (PriceUpdate, error) {
	var p priceUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return PriceUpdate{}, err
	}
	price, err := ParseWei(p.NewPrice)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("new_price: %w", err)
	}
	supply, err := ParseWei(p.TokenSupply)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("token_supply: %w", err)
	}
	return PriceUpdate{NewPrice: price, TokenSupply: supply}, nil
}

func decodeStaking(kind Kind, params json.RawMessage) (Payload, error) {
	var p stakeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	owner, err := ParseAddress(p.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if p.TokenID == "" {
		return nil, fmt.Errorf("%w: token_id", ErrMissingField)
	}

	switch kind {
	case KindStaked:
		return Staked{Owner: owner, TokenID: p.TokenID, Timestamp: p.Timestamp}, nil
	case KindUnstaked:
		return Unstaked{Owner: owner, TokenID: p.TokenID, Timestamp: p.Timestamp}, nil
	default:
		recipient := owner
		if p.Recipient != "" {
			if recipient, err = ParseAddress(p.Recipient); err != nil {
				return nil, fmt.Errorf("recipient: %w", err)
			}
		}
		return EmergencyWithdraw{Owner: owner, TokenID: p.TokenID, Recipient: recipient}, nil
	}
}
