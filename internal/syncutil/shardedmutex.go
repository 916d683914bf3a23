// Package syncutil holds small concurrency helpers shared across services.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex maps string keys onto a fixed pool of mutexes. Memory stays
// bounded no matter how many distinct keys pass through; two keys that hash
// to the same shard contend with each other, which is acceptable for short
// critical sections.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock blocks until the shard for key is held and returns the unlock
// function for it.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardFor(key)]
	mu.Lock()
	return mu.Unlock
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
