package offers

import (
	"hash/fnv"
	"sync"
)

// numShards spreads patient and donor keys over a fixed set of mutexes so
// unrelated offers do not contend on one global lock.
const numShards = 64

type shardedLocks struct {
	shards [numShards]sync.Mutex
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % numShards)
}

// lock acquires the shards for every key in ascending shard order and returns
// the matching unlock. Keys that land on the same shard lock it once.
func (l *shardedLocks) lock(keys ...string) func() {
	var held [numShards]bool
	for _, k := range keys {
		held[shardOf(k)] = true
	}
	for i := range held {
		if held[i] {
			l.shards[i].Lock()
		}
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			if held[i] {
				l.shards[i].Unlock()
			}
		}
	}
}
