package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
)

// MemoryRAGCache 未启用 Redis 时的进程内检索结果缓存，失效方式与 RedisRAGCache 相同
type MemoryRAGCache struct {
	c *gocache.Cache

	mu  sync.Mutex
	gen map[string]int64
}

func NewMemoryRAGCache(ttl time.Duration) *MemoryRAGCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryRAGCache{c: gocache.New(ttl, 2*ttl), gen: make(map[string]int64)}
}

var _ repository.RAGResultCache = (*MemoryRAGCache)(nil)

func memoryKey(ns string, gen int64, fingerprint string) string {
	return fmt.Sprintf("%s:%d:%s", ns, gen, fingerprint)
}

func (m *MemoryRAGCache) Generation(ctx context.Context, namespace string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen[namespace], nil
}

func (m *MemoryRAGCache) Load(ctx context.Context, namespace string, gen int64, fingerprint string) (*knowledge.RAGResult, bool) {
	x, ok := m.c.Get(memoryKey(namespace, gen, fingerprint))
	if !ok {
		return nil, false
	}
	res, ok := x.(knowledge.RAGResult)
	if !ok {
		return nil, false
	}
	return &res, true
}

func (m *MemoryRAGCache) Store(ctx context.Context, namespace string, gen int64, fingerprint string, res *knowledge.RAGResult) {
	if res == nil {
		return
	}
	m.mu.Lock()
	stale := gen != m.gen[namespace]
	m.mu.Unlock()
	if stale {
		return
	}
	m.c.SetDefault(memoryKey(namespace, gen, fingerprint), *res)
}

func (m *MemoryRAGCache) Invalidate(ctx context.Context, namespace string) {
	m.mu.Lock()
	m.gen[namespace]++
	m.mu.Unlock()
}
