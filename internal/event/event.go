// Package event defines the decoded, typed contract events consumed by the
// accounting ledgers. Each event kind has a statically known payload.
package event

import (
	"fmt"
	"strconv"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindTransfer          Kind = "Transfer"
	KindTrade             Kind = "Trade"
	KindPriceUpdate       Kind = "PriceUpdate"
	KindStaked            Kind = "Staked"
	KindUnstaked          Kind = "Unstaked"
	KindEmergencyWithdraw Kind = "EmergencyWithdraw"
)

var knownKinds = map[Kind]bool{
	KindTransfer:          true,
	KindTrade:             true,
	KindPriceUpdate:       true,
	KindStaked:            true,
	KindUnstaked:          true,
	KindEmergencyWithdraw: true,
}

// Valid reports whether k names a supported event kind.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// Block is the block an event was emitted in.
type Block struct {
	Number    int64  `json:"number"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

// Envelope wraps every decoded event with its chain position.
type Envelope struct {
	Kind     Kind
	ChainID  int64
	Contract string // emitting contract (the asset for token events)
	Block    Block
	TxHash   string
	LogIndex int64
	Payload  Payload
}

// ID returns the {txHash}-{logIndex} composite identifier.
func (e *Envelope) ID() string {
	return e.TxHash + "-" + strconv.FormatInt(e.LogIndex, 10)
}

// Position returns the (blockNumber, logIndex) ordering key.
func (e *Envelope) Position() (int64, int64) {
	return e.Block.Number, e.LogIndex
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s@%d:%d", e.Kind, e.Block.Number, e.LogIndex)
}

// Payload is implemented by every event-specific parameter set.
type Payload interface {
	kind() Kind
}
