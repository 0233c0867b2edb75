package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// VersionCache 进程内缓存 chatbot 的知识版本号，过期后回源
type VersionCache struct {
	c *gocache.Cache
}

func NewVersionCache(ttl time.Duration) *VersionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &VersionCache{c: gocache.New(ttl, 2*ttl)}
}

// GetOrLoad 命中直接返回，否则调用 load 并写入缓存；load 失败不缓存
func (v *VersionCache) GetOrLoad(ctx context.Context, chatbotID string, load func(context.Context) (int64, error)) (int64, error) {
	if x, ok := v.c.Get(chatbotID); ok {
		if ver, ok := x.(int64); ok {
			return ver, nil
		}
	}
	ver, err := load(ctx)
	if err != nil {
		return 0, err
	}
	v.c.SetDefault(chatbotID, ver)
	return ver, nil
}

func (v *VersionCache) Invalidate(chatbotID string) {
	v.c.Delete(chatbotID)
}
