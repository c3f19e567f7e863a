// Package cache keeps per-domain copies of the canonical version list.
// Caches are refetched whole after invalidation, never patched in place,
// because the store computes labels and timestamps the client cannot
// reproduce.
package cache

import (
	"context"
	"sync"
	"time"

	"beacon/api/internal/store"
)

// VersionCache is what the lifecycle layer and HTTP handlers depend on.
type VersionCache interface {
	GetVersions(ctx context.Context, domain string) ([]store.Version, bool)
	SetVersions(ctx context.Context, domain string, versions []store.Version)
	InvalidateDomain(ctx context.Context, domain string)
}

type memoryEntry struct {
	versions []store.Version
	expires  time.Time
}

// Memory is the process-local fallback used when Redis is not configured.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (m *Memory) GetVersions(_ context.Context, domain string) ([]store.Version, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[domain]
	if !ok || time.Now().After(entry.expires) {
		delete(m.entries, domain)
		return nil, false
	}
	copied := make([]store.Version, len(entry.versions))
	copy(copied, entry.versions)
	return copied, true
}

func (m *Memory) SetVersions(_ context.Context, domain string, versions []store.Version) {
	copied := make([]store.Version, len(versions))
	copy(copied, versions)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[domain] = memoryEntry{versions: copied, expires: time.Now().Add(m.ttl)}
}

func (m *Memory) InvalidateDomain(_ context.Context, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, domain)
}
