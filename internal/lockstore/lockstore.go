// Package lockstore implements the distributed per-user attempt lock: the
// only cross-process synchronization primitive CriticalLaneExecutor relies
// on, backed by Redis SET NX PX / a Lua-scripted compare-and-delete release.
// It also holds a small cross-replica HF snapshot cache, so two executor
// replicas racing the same trigger within SnapshotTTL don't both pay for an
// on-chain HfOf call.
package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrLockContention is returned by Acquire when another process already
// holds the lock for this user.
var ErrLockContention = errors.New("lockstore: attempt_lock held by another process")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Store acquires and releases attempt_lock:<user> keys in Redis.
type Store struct {
	client  *redis.Client
	prefix  string
	release *redis.Script
}

// New constructs a Store over an existing *redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client, prefix: "attempt_lock:", release: redis.NewScript(releaseScript)}
}

// Lease is a held attempt lock; callers must call Release exactly once, on
// every exit path including errors and panics.
type Lease struct {
	key   string
	token string
}

// Acquire attempts to set attempt_lock:<user> with the given TTL. Returns
// ErrLockContention if another process holds it.
func (s *Store) Acquire(ctx context.Context, user common.Address, ttl time.Duration) (*Lease, error) {
	key := s.prefix + user.Hex()
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockContention
	}
	return &Lease{key: key, token: token}, nil
}

// Release deletes the lock only if it is still owned by this Lease's token,
// so a lease that outlived its TTL cannot delete a newer holder's lock.
func (s *Store) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return s.release.Run(ctx, s.client, []string{lease.key}, lease.token).Err()
}

// CachedSnapshot is the msgpack payload stored under snapshot:<user>.
// HfWei is the WAD-scaled (10^18) HF as a decimal string, since msgpack
// has no native arbitrary-precision integer type.
type CachedSnapshot struct {
	HfWei string
	Block uint64
}

// PutSnapshot caches a user's HF snapshot for ttl, letting a second executor
// replica skip its own on-chain HfOf call within the same window.
func (s *Store) PutSnapshot(ctx context.Context, user common.Address, snap CachedSnapshot, ttl time.Duration) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "snapshot:"+user.Hex(), data, ttl).Err()
}

// GetSnapshot returns the cached snapshot, or ok=false on a cache miss.
func (s *Store) GetSnapshot(ctx context.Context, user common.Address) (CachedSnapshot, bool, error) {
	data, err := s.client.Get(ctx, "snapshot:"+user.Hex()).Bytes()
	if err == redis.Nil {
		return CachedSnapshot{}, false, nil
	}
	if err != nil {
		return CachedSnapshot{}, false, err
	}
	var snap CachedSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return CachedSnapshot{}, false, err
	}
	return snap, true, nil
}
