// Package ingest implements EventIngestor: a single long-lived
// WebSocket subscription fanning out NewBlock, PoolEvent, and PriceUpdate
// streams, with heartbeat-based reconnect and bounded exponential backoff.
package ingest

import (
	"github.com/ethereum/go-ethereum/common"
)

// PoolEventKind narrows a decoded pool log to one of the registered
// topic-keyed event types.
type PoolEventKind string

const (
	EventBorrow         PoolEventKind = "borrow"
	EventRepay          PoolEventKind = "repay"
	EventSupply         PoolEventKind = "supply"
	EventWithdraw       PoolEventKind = "withdraw"
	EventLiquidationCall PoolEventKind = "liquidation_call"
)

// NewBlock is emitted once per new chain head.
type NewBlock struct {
	Number uint64
	Hash   common.Hash
}

// PoolEvent is a decoded Borrow/Repay/Supply/Withdraw/LiquidationCall log.
type PoolEvent struct {
	Kind    PoolEventKind
	Users   []common.Address
	Reserve common.Address
	Block   uint64
	TxHash  common.Hash
	// Liquidator and DebtToCover are only populated for EventLiquidationCall.
	Liquidator  common.Address
	DebtToCover *uint256Alias
}

// PriceUpdate is emitted when a registered Chainlink-style feed reports a
// new round.
type PriceUpdate struct {
	Feed      common.Address
	Answer    *uint256Alias
	UpdatedAt uint64
}

// Decoder maps a 32-byte event signature topic to a typed decode function.
// This is the compile-time topic-keyed registry the design notes call for,
// replacing reflective/dynamic ABI decoding.
type Decoder func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (PoolEvent, bool)

// Registry is the topic -> Decoder table built at startup.
type Registry struct {
	decoders map[common.Hash]Decoder
}

// NewRegistry constructs an empty topic registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[common.Hash]Decoder)}
}

// Register binds a topic signature to its decoder.
func (r *Registry) Register(topic common.Hash, d Decoder) {
	r.decoders[topic] = d
}

// Decode looks up and applies the decoder for topics[0]; unknown topics are
// ignored (ok=false), never dispatched dynamically.
func (r *Registry) Decode(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (PoolEvent, bool) {
	if len(topics) == 0 {
		return PoolEvent{}, false
	}
	d, ok := r.decoders[topics[0]]
	if !ok {
		return PoolEvent{}, false
	}
	return d(topics, data, block, txHash)
}
