package initial

import (
	"context"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/config"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/pkg/redis"
	"LeadPilot/pkg/zlog"
)

// NewRAGResultCache Redis 未启用或连不上时使用进程内缓存，检索结果缓存丢失不影响正确性
func NewRAGResultCache(ctx context.Context, conf config.RedisConfig, ttl time.Duration) (repository.RAGResultCache, func()) {
	if !conf.Enabled || conf.Host == "" {
		zlog.Info("redis disabled, using in-memory rag cache")
		return cache.NewMemoryRAGCache(ttl), func() {}
	}
	cli, err := redis.NewClient(ctx, redis.Options{
		Addr:         conf.Addr(),
		Password:     conf.Password,
		DB:           conf.DB,
		PoolSize:     conf.PoolSize,
		MinIdleConns: conf.MinIdleConns,
	})
	if err != nil {
		zlog.Error("redis connect failed, using in-memory rag cache", zap.String("addr", conf.Addr()), zap.Error(err))
		return cache.NewMemoryRAGCache(ttl), func() {}
	}
	zlog.Info("redis connected", zap.String("addr", conf.Addr()))
	return cache.NewRedisRAGCache(cli, ttl), func() { _ = cli.Close() }
}
