package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the pub/sub channel an admin command-channel
// mutation publishes to, so every relay instance's L1 shard drops the
// affected key. Grounded on
// poyrazK-cloudDNS/internal/dns/server/redis.go's InvalidationChannel.
const InvalidationChannel = "relay:invalidation"

const keyPrefix = "relay:"

// L2 is the optional cross-instance Redis-backed cache. Grounded on
// poyrazK-cloudDNS/internal/dns/server/redis.go, repurposed from caching
// dynamically-resolved zone answers to caching this relay's static-record
// answers.
type L2 struct {
	client *redis.Client
}

// NewL2 wraps an already-configured *redis.Client.
func NewL2(client *redis.Client) *L2 {
	return &L2{client: client}
}

// Get returns the cached value for key and the seconds remaining on its
// Redis TTL (0 if the key carries no expiry).
func (r *L2) Get(ctx context.Context, key string) ([]byte, uint32, bool) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, 0, false
	}
	ttl, err := r.client.TTL(ctx, keyPrefix+key).Result()
	if err != nil || ttl <= 0 {
		return val, 0, true
	}
	return val, uint32(ttl.Seconds()), true
}

func (r *L2) Set(ctx context.Context, key string, data []byte, ttlSeconds uint32) {
	r.client.Set(ctx, keyPrefix+key, data, time.Duration(ttlSeconds)*time.Second)
}

func (r *L2) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Invalidate publishes key on InvalidationChannel so every relay instance's
// L1 drops it, then deletes the key from Redis itself.
func (r *L2) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Publish(ctx, InvalidationChannel, key).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, keyPrefix+key).Err()
}

// Subscribe returns a channel delivering invalidated keys published by any
// relay instance (including this one).
func (r *L2) Subscribe(ctx context.Context) <-chan *redis.Message {
	pubsub := r.client.Subscribe(ctx, InvalidationChannel)
	return pubsub.Channel()
}

// Layered composes an always-present L1 with an optional L2: reads check L1
// first, falling through to L2 on miss and backfilling L1; writes populate
// both. L2 may be nil, in which case Layered behaves as a bare L1 cache.
type Layered struct {
	L1 *L1
	L2 *L2
}

// NewLayered returns a Layered cache. l2 may be nil.
func NewLayered(l1 *L1, l2 *L2) *Layered {
	return &Layered{L1: l1, L2: l2}
}

func (c *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	if data, ok := c.L1.Get(ctx, key); ok {
		return data, true
	}
	if c.L2 == nil {
		return nil, false
	}
	data, ttl, ok := c.L2.Get(ctx, key)
	if ok && ttl > 0 {
		c.L1.Set(ctx, key, data, ttl)
	}
	return data, ok
}

func (c *Layered) Set(ctx context.Context, key string, value []byte, ttlSeconds uint32) {
	c.L1.Set(ctx, key, value, ttlSeconds)
	if c.L2 != nil {
		c.L2.Set(ctx, key, value, ttlSeconds)
	}
}

func (c *Layered) Invalidate(ctx context.Context, key string) error {
	if err := c.L1.Invalidate(ctx, key); err != nil {
		return err
	}
	if c.L2 == nil {
		return nil
	}
	return c.L2.Invalidate(ctx, key)
}

// RunInvalidationListener drains L2's invalidation channel and drops the
// matching L1 entry on every published key, until ctx is canceled. It
// should run in its own goroutine; a nil L2 makes it a no-op.
func (c *Layered) RunInvalidationListener(ctx context.Context) {
	if c.L2 == nil {
		return
	}
	ch := c.L2.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.L1.Invalidate(ctx, msg.Payload)
		}
	}
}
