package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"beacon/api/internal/store"
)

func setupTestCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	versions, err := NewRedis("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	return versions, s
}

func sampleVersions() []store.Version {
	return []store.Version{
		{ID: "ver_1", Domain: "journeys", Status: store.StatusActive, Label: "v1", Settings: map[string]any{"lookback_days": float64(7)}},
		{ID: "ver_2", Domain: "journeys", Status: store.StatusDraft, Label: "v2", Settings: map[string]any{"lookback_days": float64(14)}},
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	versions, s := setupTestCache(t)
	defer versions.Close()
	defer s.Close()

	ctx := context.Background()
	if _, ok := versions.GetVersions(ctx, "journeys"); ok {
		t.Fatal("expected a miss before the first set")
	}

	versions.SetVersions(ctx, "journeys", sampleVersions())

	cached, ok := versions.GetVersions(ctx, "journeys")
	if !ok {
		t.Fatal("expected a hit after set")
	}
	if len(cached) != 2 || cached[0].ID != "ver_1" || cached[1].Status != store.StatusDraft {
		t.Fatalf("cache returned wrong payload: %+v", cached)
	}
}

func TestRedisCacheInvalidateDomain(t *testing.T) {
	versions, s := setupTestCache(t)
	defer versions.Close()
	defer s.Close()

	ctx := context.Background()
	versions.SetVersions(ctx, "journeys", sampleVersions())
	versions.SetVersions(ctx, "funnels", sampleVersions()[:1])

	versions.InvalidateDomain(ctx, "journeys")

	if _, ok := versions.GetVersions(ctx, "journeys"); ok {
		t.Fatal("journeys should be invalidated")
	}
	if _, ok := versions.GetVersions(ctx, "funnels"); !ok {
		t.Fatal("funnels should be untouched")
	}
}

func TestRedisCacheTTL(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	versions, err := NewRedis("redis://"+s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer versions.Close()

	ctx := context.Background()
	versions.SetVersions(ctx, "journeys", sampleVersions())

	s.FastForward(2 * time.Second)

	if _, ok := versions.GetVersions(ctx, "journeys"); ok {
		t.Fatal("entry should expire with the ttl")
	}
}

func TestMemoryCacheFallback(t *testing.T) {
	memory := NewMemory(time.Minute)
	ctx := context.Background()

	memory.SetVersions(ctx, "funnels", sampleVersions())
	cached, ok := memory.GetVersions(ctx, "funnels")
	if !ok || len(cached) != 2 {
		t.Fatalf("expected hit with 2 versions, got ok=%v len=%d", ok, len(cached))
	}

	memory.InvalidateDomain(ctx, "funnels")
	if _, ok := memory.GetVersions(ctx, "funnels"); ok {
		t.Fatal("expected miss after invalidation")
	}
}
