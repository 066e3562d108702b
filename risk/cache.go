package risk

import (
	"sync"

	"blainsmith.com/go/seahash"
)

const numCacheShards = 64

type cacheShard struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// lookupCache is a sharded, thread-safe memo of resolved table queries.
// Parallel chains resolve per-individual tables concurrently at start-up,
// and sharding keeps them from serializing on a single lock.
type lookupCache struct {
	shards [numCacheShards]cacheShard
}

func newLookupCache() *lookupCache {
	c := &lookupCache{}
	for i := 0; i < len(c.shards); i++ {
		c.shards[i].tables = make(map[string]*Table)
	}
	return c
}

// getOrFill returns the table cached under key, calling fill to resolve it
// on first use.  Errors from fill are returned without being cached.
func (c *lookupCache) getOrFill(key string, fill func() (*Table, error)) (*Table, error) {
	h := seahash.Sum64([]byte(key))
	shard := &c.shards[int(h%uint64(numCacheShards))]

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if t, ok := shard.tables[key]; ok {
		return t, nil
	}
	t, err := fill()
	if err != nil {
		return nil, err
	}
	shard.tables[key] = t
	return t, nil
}
