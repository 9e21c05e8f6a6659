// Package cache implements the ports.AnswerCache port: an always-present
// in-process L1 sharded map and an optional Redis L2, grounded on
// poyrazK-cloudDNS/internal/dns/server/cache.go's FNV-sharded map and
// redis.go's pub/sub invalidation channel.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 256

type entry struct {
	data      []byte
	expiresAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

// L1 is the always-present in-process answer cache. Repurposed from the
// teacher's dynamically-resolved zone-answer cache to this relay's
// static-record answer cache (SPEC_FULL.md §3.1/§4.H): same shard-per-key-hash
// discipline, same lazy-expiry-on-read behavior.
type L1 struct {
	shards [shardCount]*shard
}

// NewL1 returns a ready-to-use L1 cache; no background goroutine runs here
// since expired entries are discarded lazily on Get (unlike the teacher's
// periodic cleanupLoop, which this relay's small static-record working
// set doesn't need).
func NewL1() *L1 {
	c := &L1{}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *L1) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key, if present and unexpired.
func (c *L1) Get(ctx context.Context, key string) ([]byte, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

// Set stores value for key with the given TTL in seconds.
func (c *L1) Set(ctx context.Context, key string, value []byte, ttlSeconds uint32) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry{data: value, expiresAt: time.Now().Add(time.Duration(ttlSeconds) * time.Second)}
	s.mu.Unlock()
}

// Invalidate removes key from this instance's L1 shard.
func (c *L1) Invalidate(ctx context.Context, key string) error {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}
