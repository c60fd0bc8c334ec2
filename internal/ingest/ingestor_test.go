package ingest

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_CapsAtMax(t *testing.T) {
	max := 10 * time.Second
	d := time.Second
	for i := 0; i < 20; i++ {
		d = nextBackoff(d, max)
		assert.LessOrEqual(t, d, max+2*time.Second)
	}
}

func TestRegistry_UnknownTopicIgnored(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Decode([]common.Hash{common.HexToHash("0xdead")}, nil, 1, common.Hash{})
	assert.False(t, ok)
}

func TestRegistry_RegisteredTopicDecodes(t *testing.T) {
	r := NewRegistry()
	borrowTopic := common.HexToHash("0xb1")
	r.Register(borrowTopic, func(topics []common.Hash, data []byte, block uint64, txHash common.Hash) (PoolEvent, bool) {
		return PoolEvent{Kind: EventBorrow, Block: block, DebtToCover: uint256.NewInt(100)}, true
	})

	ev, ok := r.Decode([]common.Hash{borrowTopic}, nil, 42, common.Hash{})
	assert.True(t, ok)
	assert.Equal(t, EventBorrow, ev.Kind)
	assert.Equal(t, uint64(42), ev.Block)
}

func TestIngestor_StartsDisconnected(t *testing.T) {
	in := New(Config{URL: "wss://example.invalid"}, NewRegistry(), noopLogger())
	assert.False(t, in.IsConnected())
}
