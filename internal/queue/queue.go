// Package queue implements DirtySet/Hotlist: bounded priority
// containers for near-threshold borrowers. Single writer (HealthResolver or
// PredictiveOrchestrator), read-only public views for everyone else.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/domain"
	"lukechampine.com/blake3"
)

// DefaultHotCapacity bounds the hot queue; insertion over capacity evicts
// the lowest-scoring entry.
const DefaultHotCapacity = 2000

// Key derives a short dedup key for a (user, block) pair using blake3,
// cheap enough to compute on every enqueue without allocating a string per
// candidate in hot paths that only need to check membership.
func Key(user common.Address, block uint64) [16]byte {
	h := blake3.New(16, nil)
	h.Write(user.Bytes())
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(block)
		block >>= 8
	}
	h.Write(buf[:])
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hotlist is the bounded, score-ordered container for near-threshold
// borrowers. Lower Score is more urgent; eviction under capacity pressure
// drops the highest (least urgent) score.
type Hotlist struct {
	mu       sync.RWMutex
	capacity int
	entries  map[common.Address]domain.QueueEntry
}

// NewHotlist constructs a Hotlist bounded at capacity (DefaultHotCapacity if
// capacity <= 0).
func NewHotlist(capacity int) *Hotlist {
	if capacity <= 0 {
		capacity = DefaultHotCapacity
	}
	return &Hotlist{capacity: capacity, entries: make(map[common.Address]domain.QueueEntry)}
}

// Upsert inserts or replaces a borrower's entry. If this insertion pushes
// the set over capacity, the single lowest-priority (highest Score) entry is
// evicted. Upsert itself is never the evicted entry's recipient: a fresh
// Upsert of an existing user just replaces in place.
func (h *Hotlist) Upsert(e domain.QueueEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	e.LastCheckedAt = time.Now()

	_, existed := h.entries[e.User]
	h.entries[e.User] = e
	if !existed && len(h.entries) > h.capacity {
		h.evictWorst()
	}
}

// evictWorst drops the single entry with the highest Score (least urgent).
// Caller must hold h.mu.
func (h *Hotlist) evictWorst() {
	var worstUser common.Address
	worstScore := -1.0
	first := true
	for u, e := range h.entries {
		if first || e.Score > worstScore {
			worstUser, worstScore, first = u, e.Score, false
		}
	}
	if !first {
		delete(h.entries, worstUser)
	}
}

// Remove drops a user from the hotlist, used when HF recovers well above
// threshold or the user is no longer a borrower.
func (h *Hotlist) Remove(user common.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, user)
}

// Get returns a read-only copy of a user's entry.
func (h *Hotlist) Get(user common.Address) (domain.QueueEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[user]
	return e, ok
}

// Len returns the current entry count.
func (h *Hotlist) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Snapshot returns all entries ordered by ascending Score (most urgent
// first), a read-only view safe for concurrent callers.
func (h *Hotlist) Snapshot() []domain.QueueEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.QueueEntry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// Top returns the n most urgent entries, or fewer if the hotlist holds less.
func (h *Hotlist) Top(n int) []domain.QueueEntry {
	all := h.Snapshot()
	if n >= len(all) {
		return all
	}
	return all[:n]
}

// DirtySet tracks users whose HF must be recomputed on the next tick: the
// set a pool event, price update, or audit coverage gap re-enqueues into.
// Membership is the only thing that matters; insertion order and duplicate
// marks are irrelevant, so this is a plain guarded set rather than a queue.
type DirtySet struct {
	mu    sync.Mutex
	users map[common.Address]string // user -> reason of most recent mark
}

// NewDirtySet constructs an empty DirtySet.
func NewDirtySet() *DirtySet {
	return &DirtySet{users: make(map[common.Address]string)}
}

// Mark records user as needing recheck for reason, overwriting any prior
// reason (the most recent cause wins for logging purposes; recheck logic
// itself does not branch on it).
func (d *DirtySet) Mark(user common.Address, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user] = reason
}

// MarkMany marks every user in users for reason.
func (d *DirtySet) MarkMany(users []common.Address, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range users {
		d.users[u] = reason
	}
}

// Drain atomically removes and returns all marked (user, reason) pairs,
// leaving the set empty. cmd/liqbot's drainDirtyIntoHotlist drains it on
// each block to pick the users it rechecks.
func (d *DirtySet) Drain() map[common.Address]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.users
	d.users = make(map[common.Address]string)
	return out
}

// Len reports the current dirty-user count.
func (d *DirtySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}
