package main

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/ingest"
)

func eventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func mustArgType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	topicBorrow          = eventTopic("Borrow(address,address,address,uint256,uint8,uint256,uint16)")
	topicRepay           = eventTopic("Repay(address,address,address,uint256,bool)")
	topicSupply          = eventTopic("Supply(address,address,address,uint256,uint16)")
	topicWithdraw        = eventTopic("Withdraw(address,address,address,uint256)")
	topicLiquidationCall = eventTopic("LiquidationCall(address,address,address,uint256,uint256,address,bool)")
)

func topicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes()[12:])
}

// registerPoolDecoders binds every pool log this bot cares about into
// registry, keyed by its event signature topic. Each decoder only extracts
// the fields HealthResolver/LiquidationAuditor need; the rest of the event's
// payload is discarded.
func registerPoolDecoders(registry *ingest.Registry) {
	registry.Register(topicBorrow, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (ingest.PoolEvent, bool) {
		if len(topics) < 3 {
			return ingest.PoolEvent{}, false
		}
		reserve := topicAddress(topics[1])
		user := topicAddress(topics[2])
		return ingest.PoolEvent{Kind: ingest.EventBorrow, Reserve: reserve, Users: []common.Address{user}, Block: block, TxHash: txHash}, true
	})

	registry.Register(topicRepay, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (ingest.PoolEvent, bool) {
		if len(topics) < 3 {
			return ingest.PoolEvent{}, false
		}
		reserve := topicAddress(topics[1])
		user := topicAddress(topics[2])
		return ingest.PoolEvent{Kind: ingest.EventRepay, Reserve: reserve, Users: []common.Address{user}, Block: block, TxHash: txHash}, true
	})

	registry.Register(topicSupply, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (ingest.PoolEvent, bool) {
		if len(topics) < 3 {
			return ingest.PoolEvent{}, false
		}
		reserve := topicAddress(topics[1])
		user := topicAddress(topics[2])
		return ingest.PoolEvent{Kind: ingest.EventSupply, Reserve: reserve, Users: []common.Address{user}, Block: block, TxHash: txHash}, true
	})

	registry.Register(topicWithdraw, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (ingest.PoolEvent, bool) {
		if len(topics) < 3 {
			return ingest.PoolEvent{}, false
		}
		reserve := topicAddress(topics[1])
		user := topicAddress(topics[2])
		return ingest.PoolEvent{Kind: ingest.EventWithdraw, Reserve: reserve, Users: []common.Address{user}, Block: block, TxHash: txHash}, true
	})

	registry.Register(topicLiquidationCall, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (ingest.PoolEvent, bool) {
		if len(topics) < 4 {
			return ingest.PoolEvent{}, false
		}
		debt := topicAddress(topics[2])
		user := topicAddress(topics[3])

		args := abi.Arguments{
			{Type: mustArgType("uint256")}, {Type: mustArgType("uint256")},
			{Type: mustArgType("address")}, {Type: mustArgType("bool")},
		}
		unpacked, err := args.Unpack(data)
		if err != nil || len(unpacked) != 4 {
			return ingest.PoolEvent{}, false
		}
		debtToCover, _ := unpacked[0].(*big.Int)
		liquidator, _ := unpacked[2].(common.Address)

		ev := ingest.PoolEvent{
			Kind: ingest.EventLiquidationCall, Reserve: debt, Users: []common.Address{user},
			Block: block, TxHash: txHash, Liquidator: liquidator,
		}
		if debtToCover != nil {
			if v, overflow := uint256.FromBig(debtToCover); !overflow {
				ev.DebtToCover = v
			}
		}
		return ev, true
	})
}
