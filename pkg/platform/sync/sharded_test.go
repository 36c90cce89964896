package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_DefaultsShardCount(t *testing.T) {
	assert.Equal(t, defaultShards, NewShardedMutex(0).Shards())
	assert.Equal(t, 4, NewShardedMutex(4).Shards())
}

func TestShardedMutex_EmptyKeyUsesFirstShard(t *testing.T) {
	m := NewShardedMutex(8)
	assert.Equal(t, 0, m.shardFor(""))

	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameSubjectSerializes(t *testing.T) {
	m := NewShardedMutex(8)
	counter := 0
	var wg sync.WaitGroup

	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock("visitor-1", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestShardedMutex_StableShardForKey(t *testing.T) {
	m := NewShardedMutex(16)
	first := m.shardFor("lipo_cookie_consent:abc")
	for range 10 {
		assert.Equal(t, first, m.shardFor("lipo_cookie_consent:abc"))
	}
	assert.Less(t, first, 16)
}
