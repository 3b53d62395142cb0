// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedMutex is a fixed pool of context-aware mutexes keyed by string,
// used to serialize concurrent verifications of the same transaction
// signature. Memory is bounded regardless of how many keys are seen;
// distinct keys hashing to the same shard contend, which is harmless.
type KeyedMutex struct {
	shards [256]chan struct{}
	once   sync.Once
}

// NewKeyedMutex creates a keyed mutex with all shards unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the shard for key, or gives up when ctx is done. On
// success it returns the unlock function, which the caller must invoke
// exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[m.shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
