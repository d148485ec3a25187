// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the two-tier cache: per-type in-process ring
// buffers (L1) in front of Redis (L2), with read-through promotion and
// dependency-graph invalidation.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// Type names a cache keyspace. Each type gets its own L1 ring and TTLs.
type Type string

const (
	TypeAnalysis  Type = "analysis"
	TypeEmbedding Type = "embedding"
	TypeRetrieval Type = "retrieval"
	TypeAnswer    Type = "answer"
	TypeToolList  Type = "toollist"
)

// Valid reports whether t names a known keyspace.
func (t Type) Valid() bool {
	switch t {
	case TypeAnalysis, TypeEmbedding, TypeRetrieval, TypeAnswer, TypeToolList:
		return true
	}
	return false
}

// dependents declares the invalidation cascade: invalidating a type also
// invalidates every type listed under it. Retrieval results embed chunk
// text, and answers embed retrieval results, so writes to the corpus
// invalidate downward.
var dependents = map[Type][]Type{
	TypeEmbedding: {TypeRetrieval},
	TypeRetrieval: {TypeAnswer},
}

// Stats is a point-in-time snapshot of per-tier counters.
type Stats struct {
	L1Hits   int64 `json:"l1_hits"`
	L1Misses int64 `json:"l1_misses"`
	L2Hits   int64 `json:"l2_hits"`
	L2Misses int64 `json:"l2_misses"`
}

// Cache is the two-tier cache. L2 is optional; with no Redis address
// configured the cache degrades to L1 only.
type Cache struct {
	l1TTL      time.Duration
	l2TTL      time.Duration
	l1Capacity int
	l2MaxSize  int

	mu    sync.Mutex
	rings map[Type]*ring

	redis  *redis.Client
	logger *slog.Logger

	l1Hits, l1Misses atomic.Int64
	l2Hits, l2Misses atomic.Int64
}

// New builds a cache from configuration. The Redis client is created eagerly
// but connects lazily; L2 failures are logged and treated as misses.
func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		l1TTL:      time.Duration(cfg.L1TTLSeconds) * time.Second,
		l2TTL:      time.Duration(cfg.L2TTLSeconds) * time.Second,
		l1Capacity: cfg.L1Capacity,
		l2MaxSize:  cfg.L2MaxSize,
		rings:      make(map[Type]*ring),
		logger:     logger.GetLogger().With("component", "cache"),
	}
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

func (c *Cache) ringFor(typ Type) *ring {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rings[typ]
	if !ok {
		r = newRing(c.l1Capacity)
		c.rings[typ] = r
	}
	return r
}

func redisKey(typ Type, key string) string {
	return "seeker:" + string(typ) + ":" + key
}

// Get looks a key up: L1 first, then L2 with promotion to L1 on hit.
func (c *Cache) Get(ctx context.Context, typ Type, key string) ([]byte, bool) {
	now := time.Now()

	if value, ok := c.ringFor(typ).get(key, now); ok {
		c.l1Hits.Add(1)
		return value, true
	}
	c.l1Misses.Add(1)

	if c.redis == nil {
		return nil, false
	}

	value, err := c.redis.Get(ctx, redisKey(typ, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("L2 read failed", "type", typ, "error", err)
		}
		c.l2Misses.Add(1)
		return nil, false
	}
	c.l2Hits.Add(1)

	c.ringFor(typ).set(key, value, c.l1TTL, now)
	return value, true
}

// Set writes a value to both tiers. Values above the configured L2 size cap
// stay L1-only.
func (c *Cache) Set(ctx context.Context, typ Type, key string, value []byte) {
	c.ringFor(typ).set(key, value, c.l1TTL, time.Now())

	if c.redis == nil {
		return
	}
	if c.l2MaxSize > 0 && len(value) > c.l2MaxSize {
		c.logger.Debug("Value exceeds L2 size cap, keeping L1 only",
			"type", typ, "size", len(value))
		return
	}
	if err := c.redis.Set(ctx, redisKey(typ, key), value, c.l2TTL).Err(); err != nil {
		c.logger.Warn("L2 write failed", "type", typ, "error", err)
	}
}

// Invalidate drops a single key (when key is non-empty) or an entire type,
// then cascades to dependent types. Dependent types are always cleared
// wholesale; a single upstream key can back many downstream entries.
func (c *Cache) Invalidate(ctx context.Context, typ Type, key string) {
	if key != "" {
		c.ringFor(typ).delete(key)
		if c.redis != nil {
			if err := c.redis.Del(ctx, redisKey(typ, key)).Err(); err != nil {
				c.logger.Warn("L2 delete failed", "type", typ, "error", err)
			}
		}
	} else {
		c.invalidateType(ctx, typ)
	}

	for _, dep := range dependents[typ] {
		c.Invalidate(ctx, dep, "")
	}
}

func (c *Cache) invalidateType(ctx context.Context, typ Type) {
	c.ringFor(typ).clear()

	if c.redis == nil {
		return
	}
	pattern := redisKey(typ, "*")
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("L2 delete failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("L2 scan failed", "pattern", pattern, "error", err)
	}
}

// Stats returns the per-tier hit and miss counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1Hits:   c.l1Hits.Load(),
		L1Misses: c.l1Misses.Load(),
		L2Hits:   c.l2Hits.Load(),
		L2Misses: c.l2Misses.Load(),
	}
}

// Close releases the L2 client.
func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
