package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kadirpekel/seeker/pkg/config"
)

func testCache() *Cache {
	cfg := config.CacheConfig{}
	cfg.SetDefaults()
	cfg.RedisAddr = ""
	return New(cfg)
}

func TestSetGet(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeAnalysis, "q1", []byte("cached"))

	got, ok := c.Get(ctx, TypeAnalysis, "q1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != "cached" {
		t.Errorf("value = %q, want %q", got, "cached")
	}
}

func TestMissOnUnknownKey(t *testing.T) {
	c := testCache()

	if _, ok := c.Get(context.Background(), TypeAnalysis, "nope"); ok {
		t.Error("expected miss")
	}
}

func TestTypesAreIsolated(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeAnalysis, "k", []byte("analysis"))
	c.Set(ctx, TypeRetrieval, "k", []byte("retrieval"))

	got, _ := c.Get(ctx, TypeAnalysis, "k")
	if string(got) != "analysis" {
		t.Errorf("analysis value = %q", got)
	}
	got, _ = c.Get(ctx, TypeRetrieval, "k")
	if string(got) != "retrieval" {
		t.Errorf("retrieval value = %q", got)
	}
}

func TestInvalidateSingleKey(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeAnalysis, "a", []byte("1"))
	c.Set(ctx, TypeAnalysis, "b", []byte("2"))
	c.Invalidate(ctx, TypeAnalysis, "a")

	if _, ok := c.Get(ctx, TypeAnalysis, "a"); ok {
		t.Error("invalidated key should miss")
	}
	if _, ok := c.Get(ctx, TypeAnalysis, "b"); !ok {
		t.Error("untouched key should hit")
	}
}

func TestInvalidateCascades(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeRetrieval, "r1", []byte("results"))
	c.Set(ctx, TypeAnswer, "a1", []byte("answer"))
	c.Set(ctx, TypeAnalysis, "q1", []byte("analysis"))

	// Retrieval feeds answers; analysis is independent.
	c.Invalidate(ctx, TypeRetrieval, "")

	if _, ok := c.Get(ctx, TypeRetrieval, "r1"); ok {
		t.Error("retrieval entry should be gone")
	}
	if _, ok := c.Get(ctx, TypeAnswer, "a1"); ok {
		t.Error("dependent answer entry should be gone")
	}
	if _, ok := c.Get(ctx, TypeAnalysis, "q1"); !ok {
		t.Error("unrelated analysis entry should survive")
	}
}

func TestInvalidateSingleKeyStillCascades(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeEmbedding, "e1", []byte("vec"))
	c.Set(ctx, TypeRetrieval, "r1", []byte("results"))
	c.Set(ctx, TypeAnswer, "a1", []byte("answer"))

	c.Invalidate(ctx, TypeEmbedding, "e1")

	if _, ok := c.Get(ctx, TypeRetrieval, "r1"); ok {
		t.Error("retrieval should be invalidated transitively")
	}
	if _, ok := c.Get(ctx, TypeAnswer, "a1"); ok {
		t.Error("answer should be invalidated transitively")
	}
}

func TestStatsCounters(t *testing.T) {
	c := testCache()
	ctx := context.Background()

	c.Set(ctx, TypeAnalysis, "k", []byte("v"))
	c.Get(ctx, TypeAnalysis, "k")
	c.Get(ctx, TypeAnalysis, "missing")

	stats := c.Stats()
	if stats.L1Hits != 1 {
		t.Errorf("L1Hits = %d, want 1", stats.L1Hits)
	}
	if stats.L1Misses != 1 {
		t.Errorf("L1Misses = %d, want 1", stats.L1Misses)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := newRing(3)
	now := time.Now()
	ttl := time.Minute

	for i := 0; i < 4; i++ {
		r.set(fmt.Sprintf("k%d", i), []byte{byte(i)}, ttl, now)
	}

	if _, ok := r.get("k0", now); ok {
		t.Error("oldest entry should be evicted")
	}
	for i := 1; i < 4; i++ {
		if _, ok := r.get(fmt.Sprintf("k%d", i), now); !ok {
			t.Errorf("entry k%d should survive", i)
		}
	}
}

func TestRingSkipsExpired(t *testing.T) {
	r := newRing(2)
	now := time.Now()

	r.set("k", []byte("v"), time.Second, now)

	if _, ok := r.get("k", now); !ok {
		t.Error("fresh entry should hit")
	}
	if _, ok := r.get("k", now.Add(2*time.Second)); ok {
		t.Error("expired entry should miss")
	}
}

func TestRingOverwriteInPlace(t *testing.T) {
	r := newRing(2)
	now := time.Now()
	ttl := time.Minute

	r.set("a", []byte("1"), ttl, now)
	r.set("b", []byte("2"), ttl, now)
	r.set("a", []byte("3"), ttl, now)

	got, ok := r.get("a", now)
	if !ok || string(got) != "3" {
		t.Errorf("overwritten value = %q, %v", got, ok)
	}
	// Overwrite must not consume a slot.
	if _, ok := r.get("b", now); !ok {
		t.Error("sibling entry should survive overwrite")
	}
}
