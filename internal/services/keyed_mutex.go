package services

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultLockShards = 256

// KeyedMutex serialises work per key using a fixed set of mutex shards.
// Keys that share a shard also share the lock, so unrelated users only contend
// on hash collisions.
type KeyedMutex struct {
	shards []sync.Mutex
}

func NewKeyedMutex(shards int) *KeyedMutex {
	if shards <= 0 {
		shards = defaultLockShards
	}
	return &KeyedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the shard for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.shards[xxhash.Sum64String(key)%uint64(len(k.shards))]
	m.Lock()
	return m.Unlock
}
