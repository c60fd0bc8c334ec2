package queue

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotlist_EvictsLowestPriorityOverCapacity(t *testing.T) {
	h := NewHotlist(2)
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x1"), Score: 0.9})
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x2"), Score: 0.1})
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x3"), Score: 0.5})

	assert.Equal(t, 2, h.Len())
	_, ok := h.Get(common.HexToAddress("0x1"))
	assert.False(t, ok, "the highest (least urgent) score must be evicted")
	_, ok = h.Get(common.HexToAddress("0x2"))
	assert.True(t, ok)
}

func TestHotlist_SnapshotOrderedByAscendingScore(t *testing.T) {
	h := NewHotlist(10)
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x1"), Score: 0.5})
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x2"), Score: 0.1})
	h.Upsert(domain.QueueEntry{User: common.HexToAddress("0x3"), Score: 0.9})

	snap := h.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, common.HexToAddress("0x2"), snap[0].User)
	assert.Equal(t, common.HexToAddress("0x3"), snap[2].User)
}

func TestHotlist_UpsertReplacesExistingUserInPlace(t *testing.T) {
	h := NewHotlist(2)
	u := common.HexToAddress("0x1")
	h.Upsert(domain.QueueEntry{User: u, Score: 0.9})
	h.Upsert(domain.QueueEntry{User: u, Score: 0.2})
	assert.Equal(t, 1, h.Len())
	e, _ := h.Get(u)
	assert.Equal(t, 0.2, e.Score)
}

func TestDirtySet_DrainEmptiesAndReturnsReasons(t *testing.T) {
	d := NewDirtySet()
	u1, u2 := common.HexToAddress("0x1"), common.HexToAddress("0x2")
	d.Mark(u1, "borrow")
	d.Mark(u2, "price_update")

	drained := d.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, "borrow", drained[u1])
	assert.Equal(t, 0, d.Len())
}

func TestKey_DeterministicPerUserBlock(t *testing.T) {
	u := common.HexToAddress("0xABC")
	k1 := Key(u, 100)
	k2 := Key(u, 100)
	k3 := Key(u, 101)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
