package sync

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

// ShardedMutex serialises work per key without a global lock.
// Keys hash onto a fixed set of shards; two keys may share a shard,
// so holders must never take a second key while holding one.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex. Non-positive counts fall back to 32 shards.
func NewShardedMutex(shards int) *ShardedMutex {
	if shards <= 0 {
		shards = defaultShards
	}
	return &ShardedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the lock for the given key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// WithLock runs fn while holding the key's shard.
func (m *ShardedMutex) WithLock(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

// Shards reports the number of shards.
func (m *ShardedMutex) Shards() int {
	return len(m.shards)
}

// shardFor returns the shard index for the given key. Empty keys use shard 0.
func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
